package browser

import (
	"context"
)

// CombineContext returns a context that carries the values of primary (for
// chromedp, the target and executor) and is canceled when either primary or
// operation is done.
func CombineContext(primary, operation context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(primary)
	stop := context.AfterFunc(operation, func() {
		cancel(context.Cause(operation))
	})
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Detach returns a context with the values of ctx but none of its deadline or
// cancellation. Cleanup that must run after a run has been canceled uses it,
// always paired with its own timeout.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
