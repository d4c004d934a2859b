package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eligetuhosting/previewd/internal/screenshot"
)

var _ screenshot.Clock = (*Clock)(nil)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	got := New().Now()
	after := time.Now().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after), "got %v", got)
}

func TestClockDrivesCacheExpiry(t *testing.T) {
	t.Parallel()

	clk := New()
	entry := screenshot.CacheEntry{CapturedAt: clk.Now()}
	require.False(t, entry.Expired(clk.Now(), screenshot.DefaultCacheTTL))
	require.True(t, entry.Expired(clk.Now().Add(screenshot.DefaultCacheTTL+time.Second), screenshot.DefaultCacheTTL))
}
