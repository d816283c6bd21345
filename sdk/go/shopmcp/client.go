// Package shopmcp is a Go client for the ShopMCP REST API.
package shopmcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Session headers understood by the server.
const (
	HeaderChannel = "X-Shop-Channel"
	HeaderUser    = "X-Shop-User"
)

// Client wraps the HTTP interactions with the ShopMCP REST API. Every request
// carries the session identity the client was created with.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	channel    string
	userID     string
}

// Item is a catalog entry.
type Item struct {
	Ref         string          `json:"ref"`
	Title       string          `json:"title"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Rating      float64         `json:"rating"`
	ReviewCount int             `json:"review_count"`
	Brand       string          `json:"brand,omitempty"`
	InStock     bool            `json:"in_stock"`
}

// Quote is a time-limited conversion of a base amount into tokens.
type Quote struct {
	AmountBase  decimal.Decimal `json:"amount_base"`
	AmountToken decimal.Decimal `json:"amount_token"`
	Rate        decimal.Decimal `json:"rate"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// Order mirrors the server's order record.
type Order struct {
	ID                string          `json:"id"`
	ItemRef           string          `json:"item_ref"`
	ItemTitle         string          `json:"item_title"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	TotalBase         decimal.Decimal `json:"total_base"`
	TotalToken        decimal.Decimal `json:"total_token"`
	Status            string          `json:"status"`
	PaymentReference  string          `json:"payment_reference,omitempty"`
	Quote             Quote           `json:"quote"`
	EstimatedDelivery time.Time       `json:"estimated_delivery"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Evaluation lists spending warnings for an order total.
type Evaluation struct {
	Total             decimal.Decimal `json:"total"`
	Warnings          []string        `json:"warnings"`
	RequiresAmountAck bool            `json:"requires_amount_ack"`
}

// Preview is returned when an order preview is created.
type Preview struct {
	Order      *Order     `json:"order"`
	Evaluation Evaluation `json:"evaluation"`
}

// PreviewRequest describes the order to preview.
type PreviewRequest struct {
	ItemRef  string `json:"item_ref,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
}

// Validation is the placement gate outcome.
type Validation struct {
	CanPlace bool     `json:"can_place"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Placement is returned by Confirm whether or not the order was placed.
type Placement struct {
	Validation Validation `json:"validation"`
	Order      *Order     `json:"order,omitempty"`
	Placed     bool       `json:"placed"`
}

// TransferTemplate is an unsigned token transfer.
type TransferTemplate struct {
	Chain      string          `json:"chain"`
	ChainID    string          `json:"chain_id"`
	From       string          `json:"from"`
	To         string          `json:"to"`
	Token      string          `json:"token"`
	Amount     decimal.Decimal `json:"amount"`
	Memo       string          `json:"memo,omitempty"`
	UnsignedTx string          `json:"unsigned_tx"`
}

// Payment holds the template issued for an order.
type Payment struct {
	Order    *Order           `json:"order"`
	Template TransferTemplate `json:"template"`
}

// Settlement reports the on-chain state of a payment reference.
type Settlement struct {
	Reference string `json:"reference"`
	Found     bool   `json:"found"`
	Settled   bool   `json:"settled"`
}

// PurchaseRequest drives the one-shot purchase flow.
type PurchaseRequest struct {
	Query        string           `json:"query"`
	MaxPrice     *decimal.Decimal `json:"max_price,omitempty"`
	MinRating    float64          `json:"min_rating,omitempty"`
	BuyerAddress string           `json:"buyer_address,omitempty"`
}

// PurchaseResult is the outcome of the one-shot purchase flow.
type PurchaseResult struct {
	Status       string            `json:"status"`
	Item         *Item             `json:"item,omitempty"`
	Rationale    string            `json:"rationale,omitempty"`
	Order        *Order            `json:"order,omitempty"`
	Evaluation   *Evaluation       `json:"evaluation,omitempty"`
	Template     *TransferTemplate `json:"template,omitempty"`
	Alternatives []Item            `json:"alternatives"`
	NextSteps    []string          `json:"next_steps"`
	Hint         string            `json:"hint,omitempty"`
}

// ToolResponse is the envelope returned by tool invocations.
type ToolResponse struct {
	ID     string          `json:"id,omitempty"`
	Tool   string          `json:"tool"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *APIError       `json:"error,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Category   string            `json:"category"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("shopmcp api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("shopmcp api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client bound to one session (channel, userID).
// When httpClient is nil, a default client with a sensible timeout is used.
func NewClient(rawURL, channel, userID string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if channel == "" || userID == "" {
		return nil, errors.New("shopmcp: channel and user id are required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, channel: channel, userID: userID}, nil
}

// Search returns catalog items matching query.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Item, error) {
	params := url.Values{"q": {query}}
	if maxResults > 0 {
		params.Set("limit", strconv.Itoa(maxResults))
	}
	var out struct {
		Items []Item `json:"items"`
	}
	if err := c.get(ctx, "/api/v1/search", params, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Quote converts a base amount into a token quote.
func (c *Client) Quote(ctx context.Context, amount decimal.Decimal) (Quote, error) {
	var q Quote
	err := c.get(ctx, "/api/v1/quote", url.Values{"amount": {amount.String()}}, &q)
	return q, err
}

// Preview creates an order preview and records it in the session.
func (c *Client) Preview(ctx context.Context, req PreviewRequest) (Preview, error) {
	var p Preview
	err := c.send(ctx, http.MethodPost, "/api/v1/orders", req, &p)
	return p, err
}

// Confirm submits the user's reply for an order and places it when the
// guardrail is satisfied. A blocked placement is not an error: inspect
// Placement.Placed and Placement.Validation.
func (c *Client) Confirm(ctx context.Context, orderID, utterance, paymentReference string) (Placement, error) {
	body := map[string]string{"utterance": utterance, "payment_reference": paymentReference}
	var p Placement
	err := c.send(ctx, http.MethodPost, "/api/v1/orders/"+url.PathEscape(orderID)+"/confirm", body, &p, http.StatusConflict)
	return p, err
}

// Order fetches an order by identifier.
func (c *Client) Order(ctx context.Context, orderID string) (Order, error) {
	var o Order
	err := c.get(ctx, "/api/v1/orders/"+url.PathEscape(orderID), nil, &o)
	return o, err
}

// Pay issues a payment template for an order. from may be empty when the
// session has a linked wallet.
func (c *Client) Pay(ctx context.Context, orderID, from string) (Payment, error) {
	var p Payment
	err := c.send(ctx, http.MethodPost, "/api/v1/orders/"+url.PathEscape(orderID)+"/pay", map[string]string{"from": from}, &p)
	return p, err
}

// Verify looks up a settlement reference on the ledger.
func (c *Client) Verify(ctx context.Context, reference string) (Settlement, error) {
	var s Settlement
	err := c.get(ctx, "/api/v1/verify/"+url.PathEscape(reference), nil, &s)
	return s, err
}

// Purchase runs the search, preview and payment-template flow in one call.
func (c *Client) Purchase(ctx context.Context, req PurchaseRequest) (PurchaseResult, error) {
	var r PurchaseResult
	err := c.send(ctx, http.MethodPost, "/api/v1/purchase", req, &r)
	return r, err
}

// LinkWallet associates a wallet address with the session.
func (c *Client) LinkWallet(ctx context.Context, address string) error {
	return c.send(ctx, http.MethodPost, "/api/v1/wallet/link", map[string]string{"address": address}, nil)
}

// CallTool invokes a registered tool by name. Tool failures are reported in
// ToolResponse.Error together with a non-nil *APIError.
func (c *Client) CallTool(ctx context.Context, name string, args any) (ToolResponse, error) {
	var resp ToolResponse
	err := c.send(ctx, http.MethodPost, "/api/v1/tools/"+url.PathEscape(name), args, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && resp.Error == nil {
		resp = ToolResponse{Tool: name, Error: apiErr}
	}
	return resp, err
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload any, out any, accept ...int) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, endpoint, nil, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out, accept)
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, params, nil)
	if err != nil {
		return err
	}
	return c.do(req, out, nil)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, params url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(HeaderChannel, c.channel)
	req.Header.Set(HeaderUser, c.userID)
	return req, nil
}

func (c *Client) do(req *http.Request, out any, accept []int) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 && !accepted(resp.StatusCode, accept, data) {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if len(data) > 0 {
			var envelope ToolResponse
			if json.Unmarshal(data, &envelope) == nil && envelope.Error != nil {
				apiErr = envelope.Error
				apiErr.StatusCode = resp.StatusCode
				if out != nil {
					_ = json.Unmarshal(data, out)
				}
			} else {
				_ = json.Unmarshal(data, apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// accepted reports whether an error status carries a result payload rather
// than an error body.
func accepted(status int, accept []int, data []byte) bool {
	var probe struct {
		Code string `json:"code"`
	}
	if json.Unmarshal(data, &probe) == nil && probe.Code != "" {
		return false
	}
	for _, code := range accept {
		if status == code {
			return true
		}
	}
	return false
}
