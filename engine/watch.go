package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/vg-engine/vg/runtime"
)

// Rebuild produces a fresh guest image.
type Rebuild func(ctx context.Context) ([]byte, error)

// Watch rebuilds and runs the guest, and rebuilds again whenever changes
// delivers a notification. State is carried from the running instance into
// the rebuilt one as the configured carry policy allows. A failed build, a
// failed load or a trap is logged and Watch waits for the next change.
// Watch returns when ctx ends.
func (e *Engine) Watch(ctx context.Context, changes <-chan struct{}, rebuild Rebuild) error {
	var sess *Session
	defer func() {
		if sess != nil {
			_ = sess.Close(context.WithoutCancel(ctx))
		}
	}()

	for ctx.Err() == nil {
		image, err := rebuild(ctx)
		if err != nil {
			e.logger.Error("build failed", zap.Error(err))
			if !waitChange(ctx, changes) {
				break
			}
			continue
		}

		next, err := e.reload(ctx, sess, image)
		if err != nil {
			// The previous session stays, so its state can reach the next build.
			e.logger.Error("load failed", zap.Error(err))
			if !waitChange(ctx, changes) {
				break
			}
			continue
		}
		if sess != nil {
			_ = sess.Close(ctx)
		}
		sess = next

		changed := false
		err = sess.Drive(ctx, func() bool {
			select {
			case <-changes:
				changed = true
				return false
			default:
				return true
			}
		})
		switch {
		case ctx.Err() != nil:
		case err != nil:
			// The session already logged and released a trapped instance.
			if !errors.Is(err, runtime.ErrExecutionTrap) {
				e.logger.Error("run failed", zap.Error(err))
			}
			_ = sess.Close(ctx)
			sess = nil
			if !waitChange(ctx, changes) {
				return nil
			}
		case !changed:
			if !waitChange(ctx, changes) {
				return nil
			}
		}
		if ctx.Err() == nil {
			e.logger.Info("reloading")
		}
	}
	return nil
}

// reload instantiates image, carrying the state of sess when it is live.
func (e *Engine) reload(ctx context.Context, sess *Session, image []byte) (*Session, error) {
	var old runtime.Instance
	if sess != nil && !sess.closed {
		old = sess.inst
	}
	inst, carried, err := runtime.Reload(ctx, e.backend, old, image, e.cfg.Carry)
	if err != nil {
		e.metrics.Reloads.WithLabelValues(reloadFailed).Inc()
		return nil, err
	}

	next := e.Attach(inst)
	if carried {
		e.metrics.Reloads.WithLabelValues(reloadCarried).Inc()
		next.ticks, next.elapsed = sess.ticks, sess.elapsed
	} else {
		e.metrics.Reloads.WithLabelValues(reloadCold).Inc()
	}
	next.logger.Info("guest loaded", zap.Bool("carried", carried))
	return next, nil
}

// waitChange blocks until a change arrives. It returns false when ctx ends first.
func waitChange(ctx context.Context, changes <-chan struct{}) bool {
	select {
	case <-changes:
		return true
	case <-ctx.Done():
		return false
	}
}
