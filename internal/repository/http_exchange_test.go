package repository

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinLearn/internal/domain/models"
)

func approvedIntent() models.TradeIntent {
	return models.TradeIntent{
		ID:         "intent-1",
		Symbol:     "BTCUSDT",
		Side:       models.SignalBuy,
		Notional:   500,
		EntryPrice: 100,
		StopLoss:   98,
		TakeProfit: 104,
		Approved:   true,
	}
}

func TestHTTPExchangePlaceOrder(t *testing.T) {
	var got orderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(orderResponse{OrderID: "o-1", Status: "FILLED", FillPrice: 100.5, FilledAt: 1717405200000})
	}))
	defer srv.Close()

	x := NewHTTPExchange(srv.URL+"/", "secret", time.Second, 1)
	res, err := x.PlaceOrder(context.Background(), approvedIntent())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "o-1", res.OrderID)
	assert.Equal(t, 100.5, res.FillPrice)
	assert.Equal(t, time.UnixMilli(1717405200000).UTC(), res.FilledAt)

	assert.Equal(t, "intent-1", got.ClientOrderID)
	assert.Equal(t, "buy", got.Side)
	assert.InDelta(t, 5.0, got.Quantity, 1e-9)
}

func TestHTTPExchangeRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(orderResponse{OrderID: "o-2", Status: "rejected"})
	}))
	defer srv.Close()

	res, err := NewHTTPExchange(srv.URL, "", time.Second, 1).PlaceOrder(context.Background(), approvedIntent())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "order status rejected", res.Error)
}

func TestHTTPExchangeRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(orderResponse{OrderID: "o-3", Status: "accepted"})
	}))
	defer srv.Close()

	res, err := NewHTTPExchange(srv.URL, "", time.Second, 3).PlaceOrder(context.Background(), approvedIntent())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))

	atomic.StoreInt32(&calls, -10)
	_, err = NewHTTPExchange(srv.URL, "", time.Second, 2).PlaceOrder(context.Background(), approvedIntent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 503")
}

func TestHTTPExchangeUnapprovedIntent(t *testing.T) {
	x := NewHTTPExchange("", "", 0, 0)
	intent := approvedIntent()
	intent.Approved = false
	res, err := x.PlaceOrder(context.Background(), intent)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "intent not approved", res.Error)

	_, err = x.PlaceOrder(context.Background(), approvedIntent())
	require.Error(t, err)
}
