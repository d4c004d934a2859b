package headless

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingBlobs struct {
	mu          sync.Mutex
	path        string
	contentType string
	data        []byte
	err         error
}

func (b *recordingBlobs) PutObject(_ context.Context, path, contentType string, r io.Reader) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.path, b.contentType, b.data = path, contentType, data
	return "https://cdn.test/" + path, nil
}

type staticIDs struct{ id string }

func (s staticIDs) NewID() (string, error) { return s.id, nil }

func newTestRenderer(t *testing.T, cfg Config, blobs *recordingBlobs) *Renderer {
	t.Helper()
	r, err := New(cfg, blobs, staticIDs{id: "0192"})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxParallel: -1}, &recordingBlobs{}, staticIDs{})
	require.Error(t, err)
	_, err = New(Config{}, nil, staticIDs{})
	require.ErrorContains(t, err, "blob store")
	_, err = New(Config{}, &recordingBlobs{}, nil)
	require.ErrorContains(t, err, "id generator")

	r := newTestRenderer(t, Config{MaxParallel: 2}, &recordingBlobs{})
	require.Equal(t, 2, cap(r.limiter))
	require.Equal(t, 400, r.cfg.Width)
	require.Equal(t, 300, r.cfg.Height)
	require.Equal(t, "renders", r.cfg.PathPrefix)
}

func TestRenderUploadsCapture(t *testing.T) {
	t.Parallel()

	blobs := &recordingBlobs{}
	r := newTestRenderer(t, Config{}, blobs)
	var target string
	r.capture = func(_ context.Context, u string) ([]byte, error) {
		target = u
		return []byte("png-bytes"), nil
	}

	url, err := r.Render(context.Background(), "example.cl")
	require.NoError(t, err)
	require.Equal(t, "https://example.cl/", target)
	require.Equal(t, "renders/example.cl/0192.png", blobs.path)
	require.Equal(t, "image/png", blobs.contentType)
	require.Equal(t, []byte("png-bytes"), blobs.data)
	require.Equal(t, "https://cdn.test/renders/example.cl/0192.png", url)
}

func TestRenderErrors(t *testing.T) {
	t.Parallel()

	blobs := &recordingBlobs{}
	r := newTestRenderer(t, Config{}, blobs)

	r.capture = func(context.Context, string) ([]byte, error) { return nil, errors.New("crash") }
	_, err := r.Render(context.Background(), "example.cl")
	require.ErrorContains(t, err, "crash")

	r.capture = func(context.Context, string) ([]byte, error) { return nil, nil }
	_, err = r.Render(context.Background(), "example.cl")
	require.ErrorContains(t, err, "empty screenshot")

	r.capture = func(context.Context, string) ([]byte, error) { return []byte("x"), nil }
	blobs.err = errors.New("bucket gone")
	_, err = r.Render(context.Background(), "example.cl")
	require.ErrorContains(t, err, "upload render")
}

func TestRenderSlotHonorsContext(t *testing.T) {
	t.Parallel()

	r := newTestRenderer(t, Config{MaxParallel: 1}, &recordingBlobs{})
	require.NoError(t, r.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Render(ctx, "example.cl")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	r.release()
	require.NoError(t, r.acquire(context.Background()))
}

func TestObjectNameSanitizesHost(t *testing.T) {
	t.Parallel()

	r := newTestRenderer(t, Config{PathPrefix: "shots"}, &recordingBlobs{})
	name, err := r.objectName("example.cl:8443")
	require.NoError(t, err)
	require.Equal(t, "shots/example.cl_8443/0192.png", name)
}
