package tollgate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLReplayGuardMarkUsed(t *testing.T) {
	guard := NewTTLReplayGuard(time.Minute)

	assert.True(t, guard.MarkUsed("0xabc"))
	assert.False(t, guard.MarkUsed("0xabc"))
	// Hash comparison is case-insensitive.
	assert.False(t, guard.MarkUsed("0xABC"))
	assert.True(t, guard.MarkUsed("0xdef"))
}

func TestTTLReplayGuardExpiry(t *testing.T) {
	guard := NewTTLReplayGuard(time.Minute)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return now }

	assert.True(t, guard.MarkUsed("0xabc"))
	assert.False(t, guard.MarkUsed("0xabc"))

	now = now.Add(2 * time.Minute)
	assert.True(t, guard.MarkUsed("0xabc"), "expired entries can be used again")
}
