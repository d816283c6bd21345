package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/shopspring/decimal"

	"ShopMCP-Chain/sdk/go/shopmcp"
)

func main() {
	total := decimal.RequireFromString("600")
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(shopmcp.Preview{
			Order: &shopmcp.Order{ID: "ord_demo", ItemRef: "TV600", Quantity: 1, TotalBase: total, TotalToken: total, Status: "preview"},
			Evaluation: shopmcp.Evaluation{
				Total:             total,
				Warnings:          []string{"High-value order: $600.00 is above $500.00."},
				RequiresAmountAck: true,
			},
		})
	})
	mux.HandleFunc("POST /api/v1/orders/ord_demo/confirm", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["utterance"] == "yes" {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(shopmcp.Placement{Validation: shopmcp.Validation{
				Errors: []string{"restate the $600.00 total to confirm"},
			}})
			return
		}
		now := time.Now().UTC()
		_ = json.NewEncoder(w).Encode(shopmcp.Placement{
			Validation: shopmcp.Validation{CanPlace: true},
			Placed:     true,
			Order:      &shopmcp.Order{ID: "ord_demo", Status: "confirmed", PaymentReference: "0xfeed", CreatedAt: now},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := shopmcp.NewClient(srv.URL, "demo", "user-1", srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	preview, err := client.Preview(ctx, shopmcp.PreviewRequest{ItemRef: "TV600", Quantity: 1})
	if err != nil {
		panic(err)
	}
	fmt.Printf("preview %s total=%s warnings=%v\n", preview.Order.ID, preview.Evaluation.Total, preview.Evaluation.Warnings)

	placement, err := client.Confirm(ctx, preview.Order.ID, "yes", "")
	if err != nil {
		panic(err)
	}
	fmt.Printf("bare yes placed=%t errors=%v\n", placement.Placed, placement.Validation.Errors)

	placement, err = client.Confirm(ctx, preview.Order.ID, "I confirm the $600.00 purchase", "0xfeed")
	if err != nil {
		panic(err)
	}
	fmt.Printf("restated placed=%t status=%s\n", placement.Placed, placement.Order.Status)
}
