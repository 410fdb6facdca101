package async

import (
	"context"
	"runtime/debug"

	"github.com/m-mizutani/ctxlog"
)

// Dispatch executes a handler function asynchronously with proper context
// and panic recovery. Workflow runs dispatched from webhook intake go
// through here so that a slow or panicking run can never take down the
// request handler.
//
// Behavior:
//   - Creates a new background context with the logger preserved, so
//     cancellation of the request context does not cancel the handler
//   - Recovers from panics and logs them with the handler name
//   - Logs errors returned by the handler
func Dispatch(ctx context.Context, name string, handler func(ctx context.Context) error) {
	newCtx := newBackgroundContext(ctx)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				ctxlog.From(newCtx).Error("panic in async handler",
					"handler", name,
					"recover", r,
					"stack", string(stack))
			}
		}()

		if err := handler(newCtx); err != nil {
			ctxlog.From(newCtx).Error("error in async handler",
				"handler", name,
				"error", err)
		}
	}()
}

// newBackgroundContext creates a new background context preserving the
// ctxlog logger of the original context.
func newBackgroundContext(ctx context.Context) context.Context {
	newCtx := context.Background()
	newCtx = ctxlog.With(newCtx, ctxlog.From(ctx))
	return newCtx
}
