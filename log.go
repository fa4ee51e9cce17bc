package authz

import (
	"log/slog"
	"sync/atomic"
)

var pkgLogger atomic.Pointer[slog.Logger]

func init() {
	pkgLogger.Store(slog.Default())
}

// SetLogger sets the logger used by the package-level functions and as the
// default for new Guards. Pass nil to restore slog.Default().
func SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	pkgLogger.Store(logger)
}

func logger() *slog.Logger {
	return pkgLogger.Load()
}
