package quickq

import (
	"runtime/debug"

	"github.com/warpdl/quickq/pkg/logger"
)

// safeGo runs fn in a goroutine with panic recovery.
// Panics are logged with stack traces and the recovered value is passed to
// onPanic when it is non-nil.
func safeGo(l logger.Logger, name string, onPanic func(r any), fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				l.Error("panic in %s: %v\n%s", name, r, debug.Stack())
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}

// safeCall runs fn on the current goroutine and logs a panic instead of
// propagating it.
func safeCall(l logger.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.Error("panic in %s: %v\n%s", name, r, debug.Stack())
		}
	}()
	fn()
}
