package alatpay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"safepay/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		BaseURL:    srv.URL + "/",
		APIKey:     "test-key",
		BusinessID: "biz-1",
		Currency:   "NGN",
		Timeout:    2 * time.Second,
	}, nil, zap.NewNop())
}

func TestIssueVirtualAccount_Success(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, virtualAccountPath, r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get(subscriptionKeyHeader))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":true,"message":"ok","data":{
			"transactionId":"tx-1",
			"virtualBankAccountNumber":"0123456789",
			"virtualBankCode":"035",
			"expiredAt":"2026-10-16T12:30:00.123"
		}}`))
	})

	info, err := client.IssueVirtualAccount(context.Background(), IssueRequest{
		Amount:      decimal.NewFromInt(5000),
		OrderID:     "ORDER_1",
		Description: "Subscription",
		Customer:    Customer{Email: "a@b.c", Phone: "0800"},
	})
	require.NoError(t, err)

	assert.Equal(t, "tx-1", info.TransactionID)
	assert.Equal(t, "0123456789", info.VirtualBankAccountNumber)
	assert.Equal(t, "035", info.VirtualBankCode)
	assert.Equal(t, time.Date(2026, 10, 16, 12, 30, 0, 123000000, time.UTC), info.ExpiredAt.Time)

	assert.Equal(t, "biz-1", got["businessId"])
	assert.Equal(t, float64(5000), got["amount"])
	assert.Equal(t, "NGN", got["currency"])
	assert.Equal(t, "ORDER_1", got["orderId"])
	customer := got["customer"].(map[string]any)
	assert.Equal(t, "User", customer["firstName"], "missing first name defaults to a placeholder")
	assert.Equal(t, "", customer["lastName"])
	assert.Nil(t, customer["metadata"])
}

func TestIssueVirtualAccount_RequiresContact(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway must not be called without customer contact")
	})

	_, err := client.IssueVirtualAccount(context.Background(), IssueRequest{
		Amount:   decimal.NewFromInt(100),
		Customer: Customer{Email: "a@b.c"},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestIssueVirtualAccount_ApplicationFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":false,"message":"Business not active","data":null}`))
	})

	_, err := client.IssueVirtualAccount(context.Background(), IssueRequest{
		Amount:   decimal.NewFromInt(100),
		Customer: Customer{Email: "a@b.c", Phone: "0800"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGateway)

	var gwErr *domain.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "Business not active", gwErr.Message)
}

func TestQueryStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, transactionsPath+"/tx-9", r.URL.Path)
		w.Write([]byte(`{"status":true,"message":"found","data":{"status":"Completed","amount":5000,"orderId":"ORDER_1"}}`))
	})

	info, err := client.QueryStatus(context.Background(), "tx-9")
	require.NoError(t, err)
	assert.Equal(t, "Completed", info.Status)
	assert.Equal(t, "ORDER_1", info.OrderID)
}

func TestQueryStatus_Non2xx(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"message":"upstream down"}`))
	})

	_, err := client.QueryStatus(context.Background(), "tx-9")
	var gwErr *domain.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusServiceUnavailable, gwErr.StatusCode)
	assert.Equal(t, "upstream down", gwErr.Message)
}

func TestQueryStatus_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil, zap.NewNop())

	_, err := client.QueryStatus(context.Background(), "tx-slow")
	assert.ErrorIs(t, err, domain.ErrGateway)
}

func TestGatewayTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{`"2026-01-02T03:04:05Z"`, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{`"2026-01-02T04:04:05+01:00"`, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{`"2026-01-02T03:04:05"`, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{`"2026-01-02 03:04:05"`, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{`null`, time.Time{}},
	}
	for _, tt := range tests {
		var gt GatewayTime
		require.NoError(t, json.Unmarshal([]byte(tt.in), &gt), tt.in)
		assert.True(t, tt.want.Equal(gt.Time), "%s: got %v", tt.in, gt.Time)
	}

	var gt GatewayTime
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &gt))
}
