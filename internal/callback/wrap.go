// Package callback 为回复之后的后台任务提供统一的日志、超时与 panic 保护。
package callback

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Hook is one named unit of after-the-fact work.
type Hook[T any] struct {
	Name string
	Fn   func(ctx context.Context, payload T) error
}

// Wrap recovers panics and logs the outcome of fn. A panic is reported as an error.
func Wrap[T any](name string, fn func(ctx context.Context, payload T) error) func(ctx context.Context, payload T) error {
	return func(ctx context.Context, payload T) (err error) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("hook panic", "name", name, "error", r)
				err = fmt.Errorf("hook %s panicked: %v", name, r)
			}
		}()

		slog.Debug("hook start", "name", name)
		if err := fn(ctx, payload); err != nil {
			slog.Error("hook error", "name", name, "error", err.Error())
			return err
		}
		slog.Debug("hook done", "name", name)
		return nil
	}
}

// Run executes hooks in order on a context detached from parent's
// cancellation and bounded by timeout. Failures never stop later hooks.
func Run[T any](parent context.Context, timeout time.Duration, payload T, hooks ...Hook[T]) int {
	ctx := context.WithoutCancel(parent)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	failed := 0
	for _, h := range hooks {
		if h.Fn == nil {
			continue
		}
		if err := Wrap(h.Name, h.Fn)(ctx, payload); err != nil {
			failed++
		}
	}
	return failed
}
