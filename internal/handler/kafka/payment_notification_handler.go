package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"safepay/internal/app/reconciliation"
	"safepay/internal/domain"
	kafka_infra "safepay/internal/infrastructure/kafka"
)

type Reconciler interface {
	Reconcile(ctx context.Context, transactionID string) (*reconciliation.CheckResult, error)
}

// PaymentNotificationMessageHandler runs an immediate status check for every
// transaction the gateway reports activity on. Malformed messages, unknown
// transactions and gateway failures are dropped, the periodic sweep covers the
// latter. Store failures are returned so the message is retried.
func PaymentNotificationMessageHandler(reconciler Reconciler, logger *zap.Logger) kafka_infra.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		var notification domain.PaymentNotification
		if err := json.Unmarshal(msg.Value, &notification); err != nil {
			logger.Error("Failed to unmarshal payment notification",
				zap.Error(err),
				zap.ByteString("value", msg.Value),
				zap.Int64("offset", msg.Offset),
			)
			return nil
		}
		if notification.TransactionID == "" {
			notification.TransactionID = string(msg.Key)
		}
		if notification.TransactionID == "" {
			logger.Warn("Dropping payment notification without transaction id", zap.Int64("offset", msg.Offset))
			return nil
		}

		result, err := reconciler.Reconcile(ctx, notification.TransactionID)
		if err != nil {
			switch domain.Kind(err) {
			case domain.KindNotFound, domain.KindValidation, domain.KindIntegrity:
				logger.Warn("Dropping payment notification",
					zap.String("transaction_id", notification.TransactionID),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
				return nil
			case domain.KindGateway:
				logger.Warn("Gateway unavailable for notified transaction, leaving it to the sweep",
					zap.String("transaction_id", notification.TransactionID),
					zap.Error(err),
				)
				return nil
			}
			return fmt.Errorf("failed to reconcile notified transaction %s: %w", notification.TransactionID, err)
		}

		logger.Info("Payment notification reconciled",
			zap.String("transaction_id", result.TransactionID),
			zap.String("notified_status", notification.Status),
			zap.String("status", string(result.Status)),
			zap.Bool("already_processed", result.AlreadyProcessed),
		)
		return nil
	}
}
