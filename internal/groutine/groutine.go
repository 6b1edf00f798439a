// Package groutine spawns named goroutines. Names show up as pprof labels,
// which makes the long-lived monitoring and export goroutines identifiable in
// stack dumps.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey string

const nameKey ctxKey = "goroutine_name"

// Go starts fn on its own goroutine labeled with name. A nil parentCtx means
// context.Background().
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, nameKey, name)
		fn(ctx)
	})
}

// Name retrieves the goroutine name stored by Go, or "" if absent.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(nameKey).(string); ok {
		return s
	}
	return ""
}
