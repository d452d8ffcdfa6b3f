package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const userPrefixLen = 8

// NewOrderID mints ORDER_<unix-millis>_<user prefix>_<8 random hex>.
func NewOrderID(userID string, now time.Time) (string, error) {
	random, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate order id: %w", err)
	}
	prefix := userID
	if runes := []rune(prefix); len(runes) > userPrefixLen {
		prefix = string(runes[:userPrefixLen])
	}
	suffix := strings.ReplaceAll(random.String(), "-", "")[:8]
	return fmt.Sprintf("ORDER_%d_%s_%s", now.UnixMilli(), prefix, suffix), nil
}
