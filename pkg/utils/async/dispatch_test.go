package async_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/drover/pkg/utils/async"
	"github.com/m-mizutani/gt"
)

// safeBuffer is a thread-safe buffer for concurrent logging
type safeBuffer struct {
	b bytes.Buffer
	m sync.Mutex
}

func (sb *safeBuffer) Write(p []byte) (int, error) {
	sb.m.Lock()
	defer sb.m.Unlock()
	return sb.b.Write(p)
}

func (sb *safeBuffer) String() string {
	sb.m.Lock()
	defer sb.m.Unlock()
	return sb.b.String()
}

func TestDispatch(t *testing.T) {
	t.Run("executes handler asynchronously", func(t *testing.T) {
		ctx := context.Background()
		var wg sync.WaitGroup
		executed := false

		wg.Add(1)
		async.Dispatch(ctx, "test", func(ctx context.Context) error {
			defer wg.Done()
			executed = true
			return nil
		})

		wg.Wait()
		gt.True(t, executed)
	})

	t.Run("handles errors without crashing", func(t *testing.T) {
		ctx := context.Background()
		var wg sync.WaitGroup

		wg.Add(1)
		async.Dispatch(ctx, "test", func(ctx context.Context) error {
			defer wg.Done()
			return errors.New("test error")
		})

		wg.Wait()
	})

	t.Run("recovers from panic and logs handler name", func(t *testing.T) {
		logBuf := &safeBuffer{}
		logger := slog.New(slog.NewTextHandler(logBuf, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))

		ctx := ctxlog.With(context.Background(), logger)
		done := make(chan struct{}, 1)

		async.Dispatch(ctx, "panicky-run", func(ctx context.Context) error {
			defer func() {
				done <- struct{}{}
			}()
			panic("test panic")
		})

		select {
		case <-done:
		case <-time.After(1 * time.Second):
			t.Fatal("handler did not complete within timeout")
		}

		// Give the deferred recovery a moment to write the log entry.
		deadline := time.Now().Add(1 * time.Second)
		for time.Now().Before(deadline) {
			if strings.Contains(logBuf.String(), "panic in async handler") {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}

		out := logBuf.String()
		gt.True(t, strings.Contains(out, "panic in async handler"))
		gt.True(t, strings.Contains(out, "panicky-run"))
	})

	t.Run("handler survives parent context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())

		var wg sync.WaitGroup
		wg.Add(1)
		var ctxErr error
		async.Dispatch(ctx, "test", func(ctx context.Context) error {
			defer wg.Done()
			ctxErr = ctx.Err()
			return nil
		})

		cancel()
		wg.Wait()
		gt.NoError(t, ctxErr)
	})
}
