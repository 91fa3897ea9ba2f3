package notify

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestScrubMasksAssignments(t *testing.T) {
	in := "request failed: api_key=sk-abc123 password: hunter2 token = xyz"
	out := Scrub(in)

	assert.NotContains(t, out, "sk-abc123")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "xyz")
	assert.Contains(t, out, "api_key=[REDACTED]")
	assert.Contains(t, out, "password=[REDACTED]")
}

func TestScrubMasksBearerTokens(t *testing.T) {
	out := Scrub("Authorization header was Bearer eyJhbGciOi.abc-123")
	assert.NotContains(t, out, "eyJhbGciOi")
	assert.Contains(t, out, "Bearer [REDACTED]")
}

func TestScrubLeavesPlainTextAlone(t *testing.T) {
	in := "promoted Marinara Sauce at confidence 0.81"
	assert.Equal(t, in, Scrub(in))
}

func TestScrubErrorTruncates(t *testing.T) {
	long := errors.New(strings.Repeat("x", 1000))
	out := ScrubError(long)
	assert.Len(t, out, 400)

	assert.Equal(t, "", ScrubError(nil))
}

func TestNewTelegramRequiresConfig(t *testing.T) {
	assert.Nil(t, NewTelegram("", []int64{1}, zap.NewNop()))
	assert.Nil(t, NewTelegram("123:abc", nil, zap.NewNop()))
	assert.NotNil(t, NewTelegram("123:abc", []int64{1}, zap.NewNop()))
}

func TestNilTelegramDropsSilently(t *testing.T) {
	var tg *Telegram
	assert.NoError(t, tg.Send(nil, "hello"))
}
