package alatpay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

var gatewayTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// GatewayTime accepts the gateway's timestamps, which may or may not carry a zone.
// Zoneless values are read as UTC.
type GatewayTime struct {
	time.Time
}

func (t *GatewayTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("gateway time: %w", err)
	}
	if s == "" {
		return nil
	}
	for _, layout := range gatewayTimeLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("gateway time: unrecognized format %q", s)
}

func (t GatewayTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
