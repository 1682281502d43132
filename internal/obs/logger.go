// Package obs provides the shared logging sink for the NIC model.
//
// Every component accepts a *zap.Logger at construction; a nil logger
// falls back to a no-op sink so correctness never depends on whether
// logging is wired up.
package obs

import "go.uber.org/zap"

// NewNop returns a logger that discards everything, for components
// constructed without an explicit logger.
func NewNop() *zap.Logger {
	return zap.NewNop()
}

// OrNop returns l if non-nil, otherwise a no-op logger.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return NewNop()
	}
	return l
}
