package tools

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// 会话身份请求头。
const (
	HeaderChannel = "X-Shop-Channel"
	HeaderUser    = "X-Shop-User"
)

const maxArgumentBytes = 1 << 20

// CallFromRequest 从 POST /api/v1/tools/{name} 请求构造 Call，请求体即为参数。
func CallFromRequest(r *http.Request, name string) (Call, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxArgumentBytes))
	if err != nil {
		return Call{}, err
	}
	call := Call{
		ID:      r.Header.Get("X-Request-Id"),
		Tool:    strings.TrimSpace(name),
		Channel: r.Header.Get(HeaderChannel),
		UserID:  r.Header.Get(HeaderUser),
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		call.Arguments = json.RawMessage(body)
	}
	return call, nil
}
