package util

import (
	"regexp"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrderID(t *testing.T) {
	now := time.UnixMilli(1760605200000)

	id, err := NewOrderID("user-1234567890", now)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^ORDER_1760605200000_user-123_[0-9a-f]{8}$`), id)

	short, err := NewOrderID("u1", now)
	require.NoError(t, err)
	assert.Regexp(t, `^ORDER_1760605200000_u1_[0-9a-f]{8}$`, short)

	other, err := NewOrderID("u1", now)
	require.NoError(t, err)
	assert.NotEqual(t, short, other)
}

func TestNewOrderID_TruncatesByRune(t *testing.T) {
	id, err := NewOrderID("ñandú-ößçé-1", time.UnixMilli(1760605200000))
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(id))
	assert.Regexp(t, `^ORDER_1760605200000_ñandú-öß_[0-9a-f]{8}$`, id)
}
