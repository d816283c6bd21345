package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"ShopMCP-Chain/internal/agent"
	xerrors "ShopMCP-Chain/internal/errors"
	"ShopMCP-Chain/internal/order"
	"ShopMCP-Chain/internal/quote"
	"ShopMCP-Chain/internal/session"
	"ShopMCP-Chain/internal/tools"
)

const maxBodyBytes = 1 << 20

func sessionKey(r *http.Request) session.Key {
	return session.Key{
		Channel: r.Header.Get(tools.HeaderChannel),
		UserID:  r.Header.Get(tools.HeaderUser),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor 将错误类别映射为 HTTP 状态码。
func statusFor(err error) int {
	switch xerrors.CategoryOf(err) {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodePrecondition, xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeExternalFailure:
		return http.StatusBadGateway
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), tools.ErrorFrom(err))
}

// decodeBody 解析请求体，空请求体视为空对象。
func decodeBody(r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取请求体失败")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, name+" 必须是整数", xerrors.WithMetadata(name, raw))
	}
	return v, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type capabilityDocument struct {
	agent.Capabilities
	Endpoints []string           `json:"endpoints"`
	Tools     []tools.Definition `json:"tools,omitempty"`
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	doc := capabilityDocument{
		Capabilities: s.agent.Capabilities(),
		Endpoints: []string{
			"GET /api/v1/search", "GET /api/v1/quote", "GET /api/v1/session", "POST /api/v1/session/select",
			"POST /api/v1/orders", "GET /api/v1/orders", "GET /api/v1/orders/{id}",
			"POST /api/v1/orders/{id}/confirm", "POST /api/v1/orders/{id}/pay", "GET /api/v1/verify/{reference}",
			"POST /api/v1/purchase", "POST /api/v1/wallet/link", "GET /api/v1/wallet",
			"GET /api/v1/wallet/balance", "POST /api/v1/wallet/sign",
		},
	}
	if s.tools != nil {
		doc.Tools = s.tools.Definitions()
		doc.Endpoints = append(doc.Endpoints, "GET /api/v1/tools", "POST /api/v1/tools/{name}", "GET /api/v1/tools/ws")
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := s.agent.Search(r.Context(), sessionKey(r), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var (
		q   quote.PriceQuote
		err error
	)
	if raw := strings.TrimSpace(r.URL.Query().Get("amount")); raw != "" {
		amount, parseErr := decimal.NewFromString(raw)
		if parseErr != nil {
			writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, parseErr, "amount 不是合法的金额"))
			return
		}
		q, err = s.agent.Quote(amount)
	} else {
		quantity, qErr := queryInt(r, "quantity", 1)
		if qErr != nil {
			writeError(w, qErr)
			return
		}
		q, err = s.agent.QuoteItem(r.Context(), r.URL.Query().Get("item_ref"), quantity)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	key := sessionKey(r)
	sess, err := s.agent.Session(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	validation, err := s.agent.Validate(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess, "validation": validation})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemRef string `json:"item_ref"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.agent.SelectItem(r.Context(), sessionKey(r), req.ItemRef)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemRef         string         `json:"item_ref"`
		Quantity        *int           `json:"quantity"`
		ShippingAddress *order.Address `json:"shipping_address"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.agent.Preview(r.Context(), sessionKey(r), order.PreviewRequest{
		ItemRef:         req.ItemRef,
		Quantity:        order.QuantityOrDefault(req.Quantity),
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	opts := order.ListOptions{Limit: limit}
	for _, status := range r.URL.Query()["status"] {
		if status = strings.TrimSpace(status); status != "" {
			opts.Statuses = append(opts.Statuses, order.Status(status))
		}
	}
	orders, err := s.agent.ListOrders(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	o, err := s.agent.OrderStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// handleConfirmOrder 处理用户回复并在护栏允许时下单。被阻断时返回 409 与校验结果。
func (s *Server) handleConfirmOrder(w http.ResponseWriter, r *http.Request) {
	var req agent.PlaceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.OrderID = r.PathValue("id")
	result, err := s.agent.Place(r.Context(), sessionKey(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if !result.Placed {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	var req agent.PaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.OrderID = r.PathValue("id")
	result, err := s.agent.PaymentTemplate(r.Context(), sessionKey(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	settlement, err := s.agent.Verify(r.Context(), r.PathValue("reference"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req agent.PurchaseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.Session = sessionKey(r)
	result, err := s.agent.Purchase(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLinkWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.agent.LinkWallet(r.Context(), sessionKey(r), req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleWalletStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.agent.WalletStatus(r.Context(), sessionKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.agent.WalletBalance(r.Context(), sessionKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

func (s *Server) handleWalletSign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"order_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.agent.WalletSign(r.Context(), sessionKey(r), req.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.tools.Definitions()})
}

func (s *Server) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	call, err := tools.CallFromRequest(r, r.PathValue("name"))
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取请求体失败"))
		return
	}
	resp := s.tools.Dispatch(r.Context(), call)
	status := http.StatusOK
	if resp.Error != nil {
		status = statusFor(xerrors.New(resp.Error.Code, resp.Error.Message))
	}
	writeJSON(w, status, resp)
}
