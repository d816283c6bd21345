package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"ShopMCP-Chain/internal/confirm"
	xerrors "ShopMCP-Chain/internal/errors"
	"ShopMCP-Chain/internal/observability/metrics"
	"ShopMCP-Chain/internal/order"
	"ShopMCP-Chain/internal/policy"
	"ShopMCP-Chain/internal/session"
	"ShopMCP-Chain/pkg/logger"
)

// 面向用户的提示。
const (
	PromptConfirmed     = "Confirmation recorded. The order can now be placed."
	PromptRejected      = "The user declined. The order will not be placed."
	PromptClarify       = "The reply was not a clear yes or no. Ask the user to confirm or cancel explicitly."
	PromptRestateAmount = "This is a high-value order. Ask the user to confirm by restating the order total."

	ErrPreviewNotActive = "The order is not the active preview in this session. Preview it again before placing."
)

// ConfirmRequest 是一次确认请求。OrderID 为空时指当前预览。
type ConfirmRequest struct {
	OrderID   string `json:"order_id,omitempty"`
	Utterance string `json:"utterance"`
}

// ConfirmResult 是确认分类及其对会话的影响。
type ConfirmResult struct {
	Classification    confirm.Result   `json:"classification"`
	Confirmed         bool             `json:"confirmed"`
	RequiresAmountAck bool             `json:"requires_amount_ack"`
	Prompt            string           `json:"prompt"`
	Session           *session.Session `json:"session"`
}

// Confirm 对用户回复分类，并按确认契约更新会话。
// 模糊或无法识别的回复不改变会话状态。
func (a *Agent) Confirm(ctx context.Context, key session.Key, req ConfirmRequest) (*ConfirmResult, error) {
	if strings.TrimSpace(req.Utterance) == "" {
		return nil, xerrors.New(CodeUtteranceRequired, "")
	}
	result := &ConfirmResult{}
	s, err := a.sessions.Update(ctx, key, func(s *session.Session, _ time.Time) error {
		if err := checkActivePreview(s, req.OrderID); err != nil {
			return err
		}
		outcome := a.applyConfirmation(s, req.Utterance)
		result.Classification = outcome.result
		result.Confirmed = outcome.satisfied
		result.RequiresAmountAck = outcome.evaluation.RequiresAmountAck
		result.Prompt = outcome.prompt
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Session = s
	return result, nil
}

func checkActivePreview(s *session.Session, orderID string) error {
	if s.ActivePreview == nil {
		return xerrors.New(CodeNoActivePreview, "")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID != "" && orderID != s.ActivePreview.OrderID {
		return xerrors.New(CodePreviewMismatch, "",
			xerrors.WithMetadata("order_id", orderID),
			xerrors.WithMetadata("active_order_id", s.ActivePreview.OrderID))
	}
	return nil
}

type confirmOutcome struct {
	result     confirm.Result
	evaluation policy.Evaluation
	satisfied  bool
	prompt     string
}

// applyConfirmation 修改 s，调用方负责持有会话锁。
func (a *Agent) applyConfirmation(s *session.Session, utterance string) confirmOutcome {
	out := confirmOutcome{
		result:     a.classifier.Classify(utterance),
		evaluation: a.orders.Limits().Evaluate(s.ActivePreview.TotalBase),
	}
	out.satisfied = out.evaluation.Satisfied(out.result, utterance)
	switch {
	case out.satisfied:
		s.RecordConfirmation(true)
		out.prompt = PromptConfirmed
	case out.result.IsConfirmed():
		s.RecordConfirmation(false)
		out.prompt = PromptRestateAmount
	case out.result.IsRejected():
		s.RecordConfirmation(false)
		out.prompt = PromptRejected
	default:
		out.prompt = PromptClarify
	}

	metrics.ObserveConfirmation(string(out.result.Kind), out.satisfied)
	logger.Audit().Info("确认回复已分类",
		slog.String("session_id", s.ID),
		slog.String("order_id", s.ActivePreview.OrderID),
		slog.String("kind", string(out.result.Kind)),
		slog.String("matched_phrase", out.result.MatchedPhrase),
		slog.Float64("confidence", out.result.Confidence),
		slog.Bool("requires_amount_ack", out.evaluation.RequiresAmountAck),
		slog.Bool("satisfied", out.satisfied))
	return out
}

// Validate 返回会话当前的下单校验结果。
func (a *Agent) Validate(ctx context.Context, key session.Key) (order.Validation, error) {
	s, err := a.sessions.Get(ctx, key)
	if err != nil {
		return order.Validation{}, err
	}
	return a.orders.ValidatePlacement(s.PlacementInput()), nil
}

// PlaceRequest 是一次下单请求。OrderID 为空时指当前预览；
// 带 Utterance 时先按确认契约处理这条回复。
type PlaceRequest struct {
	OrderID          string `json:"order_id,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
	Utterance        string `json:"utterance,omitempty"`
}

// PlaceResult 是下单结果。被护栏阻断时 Placed 为 false，原因在 Validation 中。
type PlaceResult struct {
	Validation     order.Validation `json:"validation"`
	Order          *order.Order     `json:"order,omitempty"`
	Placed         bool             `json:"placed"`
	Classification *confirm.Result  `json:"classification,omitempty"`
	Session        *session.Session `json:"session,omitempty"`
}

// Place 在护栏允许时下单。已下单的订单直接返回原记录。
func (a *Agent) Place(ctx context.Context, key session.Key, req PlaceRequest) (*PlaceResult, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if replay, err := a.replayPlaced(ctx, key, req.OrderID); replay != nil || err != nil {
		return replay, err
	}

	result := &PlaceResult{}
	s, err := a.sessions.Update(ctx, key, func(s *session.Session, _ time.Time) error {
		if strings.TrimSpace(req.Utterance) != "" && s.ActivePreview != nil {
			outcome := a.applyConfirmation(s, req.Utterance)
			result.Classification = &outcome.result
		}

		result.Validation = a.orders.ValidatePlacement(s.PlacementInput())
		orderID := strings.TrimSpace(req.OrderID)
		if s.ActivePreview != nil {
			if orderID == "" {
				orderID = s.ActivePreview.OrderID
			} else if orderID != s.ActivePreview.OrderID {
				result.Validation.Errors = append(result.Validation.Errors, ErrPreviewNotActive)
				result.Validation.CanPlace = false
			}
		}
		if !result.Validation.CanPlace {
			return nil
		}

		placed, err := a.orders.Place(ctx, orderID, req.PaymentReference)
		if err != nil {
			return err
		}
		s.MarkPaid(placed.ID)
		result.Order = placed
		result.Placed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Session = s

	if !result.Placed {
		metrics.ObservePlacement(metrics.PlacementBlocked)
		logger.Audit().Info("下单被护栏阻断",
			slog.String("session_id", s.ID),
			slog.String("order_id", req.OrderID),
			slog.Any("errors", result.Validation.Errors))
		return result, nil
	}
	metrics.ObservePlacement(metrics.PlacementPlaced)
	return result, nil
}

// replayPlaced 对已下单的订单直接返回原记录，不再经过护栏。
// orderID 为空时取会话当前预览。
func (a *Agent) replayPlaced(ctx context.Context, key session.Key, orderID string) (*PlaceResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		s, err := a.sessions.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if s.ActivePreview == nil {
			return nil, nil
		}
		orderID = s.ActivePreview.OrderID
	}
	existing, err := a.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !existing.Placed() {
		return nil, nil
	}
	metrics.ObservePlacement(metrics.PlacementReplayed)
	return &PlaceResult{
		Validation: order.Validation{CanPlace: true, Errors: []string{}, Warnings: []string{}},
		Order:      existing,
		Placed:     true,
	}, nil
}
