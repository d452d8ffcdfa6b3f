package alatpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"safepay/internal/domain"
)

const (
	virtualAccountPath = "/bank-transfer/api/v1/bankTransfer/virtualAccount"
	transactionsPath   = "/bank-transfer/api/v1/bankTransfer/transactions"

	subscriptionKeyHeader = "Ocp-Apim-Subscription-Key"
	maxResponseBytes      = 1 << 20
)

type Config struct {
	BaseURL    string
	APIKey     string
	BusinessID string
	Currency   string
	Timeout    time.Duration
}

// Gateway is the remote settlement oracle as seen by the rest of the service.
type Gateway interface {
	IssueVirtualAccount(ctx context.Context, req IssueRequest) (*AccountInfo, error)
	QueryStatus(ctx context.Context, transactionID string) (*StatusInfo, error)
}

// Client talks to the ALATPay bank-transfer API. It never retries; scheduling
// the next attempt is the caller's business.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: httpClient, logger: logger}
}

type Customer struct {
	Email     string          `json:"email"`
	Phone     string          `json:"phone"`
	FirstName string          `json:"firstName"`
	LastName  string          `json:"lastName"`
	Metadata  json.RawMessage `json:"metadata"`
}

type IssueRequest struct {
	Amount      decimal.Decimal
	OrderID     string
	Description string
	Customer    Customer
}

type issueBody struct {
	BusinessID  string      `json:"businessId"`
	Amount      json.Number `json:"amount"`
	Currency    string      `json:"currency"`
	OrderID     string      `json:"orderId"`
	Description string      `json:"description"`
	Customer    Customer    `json:"customer"`
}

type AccountInfo struct {
	TransactionID            string      `json:"transactionId"`
	VirtualBankAccountNumber string      `json:"virtualBankAccountNumber"`
	VirtualBankCode          string      `json:"virtualBankCode"`
	ExpiredAt                GatewayTime `json:"expiredAt"`
	Amount                   json.Number `json:"amount,omitempty"`
	OrderID                  string      `json:"orderId,omitempty"`
	Description              string      `json:"description,omitempty"`
}

type StatusInfo struct {
	ID            string      `json:"id,omitempty"`
	TransactionID string      `json:"transactionId,omitempty"`
	Status        string      `json:"status"`
	Amount        json.Number `json:"amount,omitempty"`
	OrderID       string      `json:"orderId,omitempty"`
	Reference     string      `json:"reference,omitempty"`
}

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (c *Client) IssueVirtualAccount(ctx context.Context, req IssueRequest) (*AccountInfo, error) {
	if req.Customer.Email == "" || req.Customer.Phone == "" {
		return nil, domain.ValidationError{Field: "customer", Message: "email and phone are required"}
	}
	if req.Customer.FirstName == "" {
		req.Customer.FirstName = "User"
	}
	if req.Customer.Metadata == nil {
		req.Customer.Metadata = json.RawMessage("null")
	}

	body := issueBody{
		BusinessID:  c.cfg.BusinessID,
		Amount:      json.Number(req.Amount.String()),
		Currency:    c.cfg.Currency,
		OrderID:     req.OrderID,
		Description: req.Description,
		Customer:    req.Customer,
	}

	var resp envelope[AccountInfo]
	if err := c.do(ctx, "issue virtual account", http.MethodPost, virtualAccountPath, body, &resp); err != nil {
		return nil, err
	}

	c.logger.Info("Virtual account issued",
		zap.String("order_id", req.OrderID),
		zap.String("transaction_id", resp.Data.TransactionID),
		zap.String("bank_code", resp.Data.VirtualBankCode))
	return &resp.Data, nil
}

func (c *Client) QueryStatus(ctx context.Context, transactionID string) (*StatusInfo, error) {
	if transactionID == "" {
		return nil, domain.ValidationError{Field: "transactionId", Message: "is required"}
	}

	var resp envelope[StatusInfo]
	path := transactionsPath + "/" + url.PathEscape(transactionID)
	if err := c.do(ctx, "query status", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	c.logger.Debug("Gateway status received",
		zap.String("transaction_id", transactionID),
		zap.String("status", resp.Data.Status))
	return &resp.Data, nil
}

// do performs one request and decodes the {status, message, data} envelope into out.
func (c *Client) do(ctx context.Context, op, method, path string, in any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(subscriptionKeyHeader, c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Gateway request failed", zap.String("op", op), zap.Error(err))
		return &domain.GatewayError{Op: op, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return &domain.GatewayError{Op: op, StatusCode: res.StatusCode, Err: err}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		gwErr := &domain.GatewayError{Op: op, StatusCode: res.StatusCode, Message: upstreamMessage(raw)}
		c.logger.Error("Gateway returned non-2xx", zap.String("op", op), zap.Int("status_code", res.StatusCode), zap.String("message", gwErr.Message))
		return gwErr
	}

	var head struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return &domain.GatewayError{Op: op, StatusCode: res.StatusCode, Message: "malformed response", Err: err}
	}
	if !head.Status {
		msg := head.Message
		if msg == "" {
			msg = fmt.Sprintf("failed to %s", op)
		}
		c.logger.Warn("Gateway rejected request", zap.String("op", op), zap.String("message", msg))
		return &domain.GatewayError{Op: op, StatusCode: res.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.GatewayError{Op: op, StatusCode: res.StatusCode, Message: "malformed response data", Err: err}
	}
	return nil
}

func upstreamMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
