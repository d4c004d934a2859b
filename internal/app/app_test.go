package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eligetuhosting/previewd/internal/config"
)

func defaultConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNewWithDefaults(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), defaultConfig(t), zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })

	require.NotNil(t, a.Service())
	require.Len(t, a.Service().Providers(), 3)
	require.Nil(t, a.history)
	require.Nil(t, a.renders)
	require.Empty(t, a.checks)

	rec := httptest.NewRecorder()
	a.Server().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNewRedisAndLocalRenders(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Cache.Backend = "redis"
	cfg.Cache.Redis.Addr = "127.0.0.1:6390"
	cfg.Headless.Enabled = true
	cfg.Storage.Backend = "local"
	cfg.Storage.LocalDir = t.TempDir()

	a, err := New(context.Background(), cfg, zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })

	require.NotNil(t, a.renders)
	require.Len(t, a.checks, 1)
	require.Equal(t, "redis", a.checks[0].Name)
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(t)
	cfg.Cache.Backend = "memcached"
	_, err := New(context.Background(), cfg, zap.NewNop(), prometheus.NewRegistry())
	require.ErrorContains(t, err, "unknown cache backend")

	cfg = defaultConfig(t)
	cfg.Headless.Enabled = true
	cfg.Storage.Backend = "s3"
	_, err = New(context.Background(), cfg, zap.NewNop(), prometheus.NewRegistry())
	require.ErrorContains(t, err, "unknown storage backend")
}

func TestNewFailsOnDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	a, err := New(context.Background(), defaultConfig(t), zap.NewNop(), reg)
	require.NoError(t, err)
	defer a.Close(context.Background())

	_, err = New(context.Background(), defaultConfig(t), zap.NewNop(), reg)
	require.ErrorContains(t, err, "prometheus sink")
}

func TestCloseRunsInReverseOrder(t *testing.T) {
	t.Parallel()

	var order []int
	a := &App{logger: zap.NewNop()}
	for i := range 3 {
		a.onClose(func(context.Context) error {
			order = append(order, i)
			if i == 1 {
				return errors.New("close failed")
			}
			return nil
		})
	}
	a.Close(context.Background())
	require.Equal(t, []int{2, 1, 0}, order)

	a.Close(context.Background())
	require.Len(t, order, 3)
}

type countingSweeper struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *countingSweeper) Sweep(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return 2, s.err
}

func (s *countingSweeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestRunJanitorSweepsUntilCanceled(t *testing.T) {
	t.Parallel()

	s := &countingSweeper{err: nil}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runJanitor(ctx, 5*time.Millisecond, s, zap.NewNop())
		close(done)
	}()

	require.Eventually(t, func() bool { return s.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestRunJanitorDisabled(t *testing.T) {
	t.Parallel()

	s := &countingSweeper{}
	runJanitor(context.Background(), 0, s, zap.NewNop())
	require.Zero(t, s.count())
}
