package sales

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetSale_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/api/sales/S-1001" {
			t.Fatalf("path = %s, want /api/sales/S-1001", r.URL.Path)
		}

		resp := Sale{
			ID:            "S-1001",
			Total:         4500,
			ItemsCount:    3,
			PaymentMethod: "cash",
			Status:        "completed",
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sale, err := client.GetSale(ctx, "S-1001")
	if err != nil {
		t.Fatalf("GetSale error: %v", err)
	}
	if sale.ID != "S-1001" || sale.Total != 4500 || sale.Status != "completed" {
		t.Fatalf("unexpected sale: %+v", sale)
	}
}

func TestGetSale_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.GetSale(ctx, "missing")
	if !errors.Is(err, ErrSaleNotFound) {
		t.Fatalf("error = %v, want ErrSaleNotFound", err)
	}
}

func TestGetSale_RetriesServerError(t *testing.T) {
	var calls atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Sale{ID: "S-2", Total: 999, Status: "completed"})
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sale, err := client.GetSale(ctx, "S-2")
	if err != nil {
		t.Fatalf("GetSale error: %v", err)
	}
	if sale.ID != "S-2" {
		t.Fatalf("unexpected sale: %+v", sale)
	}
	if calls.Load() < 2 {
		t.Fatalf("calls = %d, want at least 2", calls.Load())
	}
}

func TestGetSale_NotConfigured(t *testing.T) {
	var client *Client

	_, err := client.GetSale(context.Background(), "S-1")
	if err == nil {
		t.Fatalf("expected error for unconfigured client")
	}
}
