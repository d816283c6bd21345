package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ShopMCP-Chain/pkg/logger"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsMaxMessage   = 64 << 10
)

// Frame 是 websocket 上除调用结果以外的控制帧。
type Frame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id,omitempty"`
	Message      string `json:"message,omitempty"`
}

// WSHandler 在 websocket 连接上逐帧接收 Call 并按序返回 Response。
type WSHandler struct {
	registry       *Registry
	allowedOrigins map[string]bool
	upgrader       websocket.Upgrader
}

// NewWSHandler 创建 websocket 处理器，allowedOrigins 为空时不校验来源。
func NewWSHandler(registry *Registry, allowedOrigins []string) *WSHandler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = true
		}
	}
	h := &WSHandler{registry: registry, allowedOrigins: origins}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return h.allowedOrigins[origin]
}

// ServeHTTP 实现 http.Handler。
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L().Warn("websocket 升级失败", slog.Any("error", err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessage)

	connectionID := uuid.NewString()
	log := logger.L().With(slog.String("connection_id", connectionID))
	if err := writeFrame(conn, Frame{Type: "connected", ConnectionID: connectionID}); err != nil {
		log.Warn("发送连接确认失败", slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// 默认会话身份取自握手请求头，单帧可以覆盖。
	defaultChannel := r.Header.Get(HeaderChannel)
	defaultUser := r.Header.Get(HeaderUser)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket 异常关闭", slog.Any("error", err))
			}
			return
		}

		var call Call
		if err := json.Unmarshal(message, &call); err != nil {
			if err := writeFrame(conn, Frame{Type: "error", Message: "invalid frame: send JSON {id, tool, channel, user_id, arguments}"}); err != nil {
				return
			}
			continue
		}
		if call.ID == "" {
			call.ID = uuid.NewString()
		}
		if call.Channel == "" && call.UserID == "" {
			call.Channel, call.UserID = defaultChannel, defaultUser
		}

		resp := h.registry.Dispatch(ctx, call)
		if err := writeFrame(conn, resp); err != nil {
			log.Warn("写入 websocket 响应失败", slog.String("call_id", call.ID), slog.Any("error", err))
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}
