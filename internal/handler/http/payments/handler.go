package payments_http

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"safepay/internal/app/payments"
	"safepay/internal/domain"
)

const maxBodyBytes = 64 << 10

type PaymentHandler struct {
	service  payments.PaymentService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewPaymentHandler(s payments.PaymentService, l *zap.Logger) *PaymentHandler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &PaymentHandler{service: s, validate: v, logger: l}
}

type UserInfoRequest struct {
	Email     string          `json:"email" validate:"required,email"`
	Phone     string          `json:"phone" validate:"required,min=7,max=20"`
	FirstName string          `json:"firstName" validate:"max=100"`
	LastName  string          `json:"lastName" validate:"max=100"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

type CreatePaymentRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	UserInfo UserInfoRequest `json:"userInfo"`
}

type TransactionsResponse struct {
	Transactions map[string]domain.Transaction `json:"transactions"`
	Count        int                           `json:"count"`
}

func (h *PaymentHandler) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	var req CreatePaymentRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("Invalid request body for CreatePayment", zap.String("user_id", userID), zap.Error(err))
		writeError(w, domain.ValidationError{Field: "body", Message: "invalid JSON"}, h.logger)
		return
	}
	if err := h.validateRequest(&req); err != nil {
		writeError(w, err, h.logger)
		return
	}

	result, err := h.service.CreatePayment(r.Context(), userID, req.Amount, payments.UserInfo{
		Email:     req.UserInfo.Email,
		Phone:     req.UserInfo.Phone,
		FirstName: req.UserInfo.FirstName,
		LastName:  req.UserInfo.LastName,
		Metadata:  req.UserInfo.Metadata,
	})
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeData(w, http.StatusCreated, "Virtual account generated successfully", result, h.logger)
}

func (h *PaymentHandler) CheckStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	transactionID := chi.URLParam(r, "transactionId")

	result, err := h.service.CheckStatus(r.Context(), userID, transactionID)
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeData(w, http.StatusOK, result.Message, result, h.logger)
}

func (h *PaymentHandler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	txns, err := h.service.ListTransactions(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeData(w, http.StatusOK, "", TransactionsResponse{Transactions: txns, Count: len(txns)}, h.logger)
}

func (h *PaymentHandler) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	txn, err := h.service.GetTransaction(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "transactionId"))
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeData(w, http.StatusOK, "", txn, h.logger)
}

func (h *PaymentHandler) GetSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	sub, err := h.service.GetSubscription(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeData(w, http.StatusOK, "", sub, h.logger)
}

// validateRequest reports the first failing field as a domain.ValidationError.
func (h *PaymentHandler) validateRequest(req any) error {
	err := h.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		return domain.ValidationError{Field: field, Message: "failed on '" + fe.Tag() + "'"}
	}
	return domain.ValidationError{Field: "body", Message: err.Error()}
}
