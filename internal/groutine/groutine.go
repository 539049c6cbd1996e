// Package groutine starts named goroutines. The name shows up as the
// "goroutine" pprof label, so CPU and goroutine profiles of a sync can tell
// the delivery workers and the BLE monitor apart.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey struct{}

const labelKey = "goroutine"

// Go runs fn in a new goroutine labelled name. A nil parent means
// context.Background.
//
//	groutine.Go(ctx, "deliver-cloud", func(ctx context.Context) {
//	    defer wg.Done()
//	    ...
//	})
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}
	go pprof.Do(parent, pprof.Labels(labelKey, name), func(ctx context.Context) {
		fn(context.WithValue(ctx, ctxKey{}, name))
	})
}

// Name returns the name given to Go, or "" outside such a goroutine.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(ctxKey{}).(string)
	return name
}
