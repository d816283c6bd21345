package shopmcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, "web", "u-1", srv.Client())
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return client
}

func TestNewClientRequiresSessionIdentity(t *testing.T) {
	if _, err := NewClient("http://localhost", "", "u-1", nil); err == nil {
		t.Fatal("expected missing channel to be rejected")
	}
}

func TestSearchSendsSessionHeaders(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/search" || r.URL.Query().Get("q") != "earbuds" || r.URL.Query().Get("limit") != "3" {
			t.Fatalf("unexpected request: %s", r.URL.String())
		}
		if r.Header.Get(HeaderChannel) != "web" || r.Header.Get(HeaderUser) != "u-1" {
			t.Fatalf("missing session headers: %v", r.Header)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []Item{{Ref: "E45", UnitPrice: decimal.NewFromInt(45)}}})
	})

	items, err := client.Search(context.Background(), "earbuds", 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(items) != 1 || items[0].Ref != "E45" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestConfirmReturnsBlockedPlacement(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/orders/ord_1/confirm" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["utterance"] != "yes" {
			t.Fatalf("unexpected body: %v %v", body, err)
		}
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(Placement{Validation: Validation{Errors: []string{"restate the total"}}})
	})

	placement, err := client.Confirm(context.Background(), "ord_1", "yes", "")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if placement.Placed || len(placement.Validation.Errors) != 1 {
		t.Fatalf("unexpected placement: %+v", placement)
	}
}

func TestErrorsDecodeIntoAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "ORDER_NOT_FOUND", "category": "NOT_FOUND", "message": "missing"})
	})

	_, err := client.Order(context.Background(), "ord_404")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "ORDER_NOT_FOUND" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestCallToolSurfacesToolError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tools/place_order" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(ToolResponse{Tool: "place_order", Error: &APIError{Code: "AGENT_NO_ACTIVE_PREVIEW", Message: "no preview"}})
	})

	resp, err := client.CallTool(context.Background(), "place_order", map[string]string{})
	if err == nil || resp.Error == nil || resp.Error.Code != "AGENT_NO_ACTIVE_PREVIEW" || resp.Tool != "place_order" {
		t.Fatalf("unexpected tool response: %+v %v", resp, err)
	}
}
