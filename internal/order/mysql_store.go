package order

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "ShopMCP-Chain/internal/errors"
)

// MySQLConfig 描述订单库的连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// MySQLStore 使用 MySQL 持久化订单。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 连接数据库并执行内嵌迁移。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}
	if err := runMigrations(ctx, db, nil); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行订单库迁移失败")
	}
	return &MySQLStore{db: db}, nil
}

const orderColumns = `id, item_ref, item_title, quantity, unit_price, total_base, total_token, status,
        shipping_address, payment_reference, quote_amount_base, quote_amount_token, quote_rate, quote_expires_at,
        estimated_delivery, created_at, updated_at, confirmed_at`

// Create 插入新的订单记录。
func (s *MySQLStore) Create(ctx context.Context, order *Order) error {
	if order == nil || strings.TrimSpace(order.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "订单 ID 不能为空")
	}
	address, err := marshalAddress(order.ShippingAddress)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码收货地址失败")
	}

	const stmt = `INSERT INTO orders (` + orderColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, stmt,
		order.ID,
		order.ItemRef,
		order.ItemTitle,
		order.Quantity,
		order.UnitPrice,
		order.TotalBase,
		order.TotalToken,
		string(order.Status),
		address,
		order.PaymentReference,
		order.Quote.AmountBase,
		order.Quote.AmountToken,
		order.Quote.Rate,
		order.Quote.ExpiresAt.UnixMilli(),
		order.EstimatedDelivery.UnixMilli(),
		order.CreatedAt.UnixMilli(),
		order.UpdatedAt.UnixMilli(),
		nullMillis(order.ConfirmedAt),
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrOrderConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入订单失败")
	}
	return nil
}

// Get 查询指定订单。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	order, err := scanOrder(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询订单失败")
	}
	return order, nil
}

// Update 以状态为条件覆盖可变字段。
func (s *MySQLStore) Update(ctx context.Context, order *Order, expected Status) error {
	if order == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "order 不能为空")
	}
	address, err := marshalAddress(order.ShippingAddress)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码收货地址失败")
	}

	const stmt = `UPDATE orders SET status = ?, shipping_address = ?, payment_reference = ?, total_base = ?,
        total_token = ?, updated_at = ?, confirmed_at = ? WHERE id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, stmt,
		string(order.Status),
		address,
		order.PaymentReference,
		order.TotalBase,
		order.TotalToken,
		order.UpdatedAt.UnixMilli(),
		nullMillis(order.ConfirmedAt),
		order.ID,
		string(expected),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新订单失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, order.ID); getErr != nil {
			return getErr
		}
		return ErrOrderConflict
	}
	return nil
}

// List 按创建时间倒序返回订单。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Order, error) {
	opts.applyDefaults()

	query := `SELECT ` + orderColumns + ` FROM orders`
	args := make([]any, 0, len(opts.Statuses)+1)
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询订单列表失败")
	}
	defer rows.Close()

	orders := make([]*Order, 0, opts.Limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析订单记录失败")
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历订单失败")
	}
	return orders, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		order                                 Order
		status                                string
		address                               sql.NullString
		expiresAt, delivery, created, updated int64
		confirmed                             sql.NullInt64
	)
	if err := row.Scan(
		&order.ID,
		&order.ItemRef,
		&order.ItemTitle,
		&order.Quantity,
		&order.UnitPrice,
		&order.TotalBase,
		&order.TotalToken,
		&status,
		&address,
		&order.PaymentReference,
		&order.Quote.AmountBase,
		&order.Quote.AmountToken,
		&order.Quote.Rate,
		&expiresAt,
		&delivery,
		&created,
		&updated,
		&confirmed,
	); err != nil {
		return nil, err
	}
	order.Status = Status(status)
	order.Quote.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	order.EstimatedDelivery = time.UnixMilli(delivery).UTC()
	order.CreatedAt = time.UnixMilli(created).UTC()
	order.UpdatedAt = time.UnixMilli(updated).UTC()
	if confirmed.Valid {
		at := time.UnixMilli(confirmed.Int64).UTC()
		order.ConfirmedAt = &at
	}
	if address.Valid && address.String != "" {
		var addr Address
		if err := json.Unmarshal([]byte(address.String), &addr); err != nil {
			return nil, err
		}
		order.ShippingAddress = &addr
	}
	return &order, nil
}

func marshalAddress(addr *Address) (sql.NullString, error) {
	if addr == nil {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(addr)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

var _ Store = (*MySQLStore)(nil)
