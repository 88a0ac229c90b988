package ledger

import "log/slog"

// Option configures an App.
type Option func(*App)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// WithMaxAncestryDepth caps the parent walk of SetCheckpoint.
func WithMaxAncestryDepth(n int) Option {
	return func(a *App) { a.machine = NewMachine(n) }
}

// WithSnapshotChunkSize sets the state-sync chunk size in bytes.
func WithSnapshotChunkSize(n int) Option {
	return func(a *App) {
		if n > 0 {
			a.chunkSize = n
		}
	}
}
