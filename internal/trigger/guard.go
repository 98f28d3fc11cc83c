package trigger

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// guard runs one contest's evaluation, turning a panic into an error so the
// remaining contests of the tick still run.
func guard(logger *slog.Logger, contestID string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while evaluating contest",
				"contest_id", contestID,
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("contest %s: panic: %v", contestID, r)
		}
	}()
	return fn()
}
