// Package tools 以工具调用的形式暴露护栏引擎，供智能体通过 HTTP 或 websocket 调用。
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	xerrors "ShopMCP-Chain/internal/errors"
	"ShopMCP-Chain/internal/observability/metrics"
	"ShopMCP-Chain/internal/session"
	"ShopMCP-Chain/pkg/logger"
)

const (
	CodeUnknownTool      xerrors.Code = "TOOL_UNKNOWN"
	CodeInvalidArguments xerrors.Code = "TOOL_INVALID_ARGUMENTS"
)

func init() {
	xerrors.Register(CodeUnknownTool, xerrors.Attributes{
		Message:  "unknown tool",
		Severity: xerrors.SeverityInfo,
		Category: xerrors.CodeNotFound,
	})
	xerrors.Register(CodeInvalidArguments, xerrors.Attributes{
		Message:  "tool arguments do not match the input schema",
		Severity: xerrors.SeverityInfo,
		Category: xerrors.CodeInvalidArgument,
	})
}

// Definition 描述一个工具及其参数的 JSON Schema。
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Handler 执行一次工具调用。
type Handler func(ctx context.Context, key session.Key, args json.RawMessage) (any, error)

type tool struct {
	def     Definition
	schema  *gojsonschema.Schema
	handler Handler
}

// Call 是一次工具调用请求。
type Call struct {
	ID        string          `json:"id,omitempty"`
	Tool      string          `json:"tool"`
	Channel   string          `json:"channel,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Key 返回调用所属的会话。
func (c Call) Key() session.Key {
	return session.Key{Channel: c.Channel, UserID: c.UserID}
}

// ErrorBody 是返回给调用方的错误结构。
type ErrorBody struct {
	Code     xerrors.Code      `json:"code"`
	Category xerrors.Code      `json:"category"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ErrorFrom 将任意错误转换为 ErrorBody，未识别的错误不暴露内部信息。
func ErrorFrom(err error) *ErrorBody {
	if err == nil {
		return nil
	}
	if typed, ok := xerrors.From(err); ok {
		return &ErrorBody{
			Code:     typed.Code(),
			Category: typed.Category(),
			Message:  typed.Message(),
			Metadata: typed.Metadata(),
		}
	}
	return &ErrorBody{Code: xerrors.CodeUnknown, Category: xerrors.CodeUnknown, Message: xerrors.AttributesOf(xerrors.CodeUnknown).Message}
}

// Response 是一次工具调用的结果。
type Response struct {
	ID     string     `json:"id,omitempty"`
	Tool   string     `json:"tool"`
	OK     bool       `json:"ok"`
	Result any        `json:"result,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// Registry 保存已注册的工具。注册在启动阶段完成，之后只读。
type Registry struct {
	tools map[string]*tool
}

// NewRegistry 创建空的工具注册表。
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*tool)}
}

// Register 注册工具并编译其参数 Schema。
func (r *Registry) Register(def Definition, handler Handler) error {
	name := strings.TrimSpace(def.Name)
	if name == "" || handler == nil {
		return fmt.Errorf("工具名称与处理函数不能为空")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("工具 %s 已注册", name)
	}
	if len(def.InputSchema) == 0 {
		def.InputSchema = json.RawMessage(`{"type":"object"}`)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(def.InputSchema))
	if err != nil {
		return fmt.Errorf("编译工具 %s 的参数 Schema 失败: %w", name, err)
	}
	def.Name = name
	r.tools[name] = &tool{def: def, schema: schema, handler: handler}
	return nil
}

// Definitions 按名称排序返回所有工具定义。
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names 返回排序后的工具名称。
func (r *Registry) Names() []string {
	defs := r.Definitions()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

// Invoke 校验参数并执行工具。
func (r *Registry) Invoke(ctx context.Context, call Call) (any, error) {
	name := strings.TrimSpace(call.Tool)
	t, ok := r.tools[name]
	if !ok {
		err := xerrors.New(CodeUnknownTool, fmt.Sprintf("未知工具: %q", name), xerrors.WithMetadata("tool", name))
		metrics.ObserveToolCall("unknown", err)
		return nil, err
	}
	args := call.Arguments
	if len(strings.TrimSpace(string(args))) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}

	result, err := t.schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		err = xerrors.Wrap(CodeInvalidArguments, err, "参数不是合法的 JSON")
		metrics.ObserveToolCall(name, err)
		return nil, err
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		err := xerrors.New(CodeInvalidArguments, "", xerrors.WithMetadata("errors", strings.Join(problems, "; ")))
		metrics.ObserveToolCall(name, err)
		return nil, err
	}

	out, err := t.handler(ctx, call.Key(), args)
	metrics.ObserveToolCall(name, err)
	if err != nil {
		logger.L().Debug("工具调用失败",
			slog.String("tool", name),
			slog.String("call_id", call.ID),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err))
		return nil, err
	}
	return out, nil
}

// Dispatch 执行调用并把结果或错误封装为 Response。
func (r *Registry) Dispatch(ctx context.Context, call Call) Response {
	resp := Response{ID: call.ID, Tool: call.Tool}
	out, err := r.Invoke(ctx, call)
	if err != nil {
		resp.Error = ErrorFrom(err)
		return resp
	}
	resp.OK = true
	resp.Result = out
	return resp
}

func decodeArgs(args json.RawMessage, out any) error {
	if err := json.Unmarshal(args, out); err != nil {
		return xerrors.Wrap(CodeInvalidArguments, err, "参数解析失败")
	}
	return nil
}
