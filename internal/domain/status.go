package domain

import "strings"

// gatewayStatuses maps the gateway's settlement vocabulary onto our states.
// Only pending and success can come from the gateway; expiry is decided locally.
var gatewayStatuses = map[string]TransactionStatus{
	"success":    TransactionStatusSuccess,
	"successful": TransactionStatusSuccess,
	"completed":  TransactionStatusSuccess,
	"paid":       TransactionStatusSuccess,
	"pending":    TransactionStatusPending,
	"processing": TransactionStatusPending,
	"initiated":  TransactionStatusPending,
	"":           TransactionStatusPending,
}

// NormalizeGatewayStatus translates a raw gateway status. Unknown terms map to
// pending and known is false, so the caller can log them without acting.
func NormalizeGatewayStatus(raw string) (status TransactionStatus, known bool) {
	status, known = gatewayStatuses[strings.ToLower(strings.TrimSpace(raw))]
	if !known {
		return TransactionStatusPending, false
	}
	return status, true
}
