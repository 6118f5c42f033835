package browser

import "context"

// Launcher starts the browser process for one run.
type Launcher interface {
	Name() string
	Launch(ctx context.Context) (Runtime, error)
}

// Runtime is a launched browser process that hands out isolated sessions.
type Runtime interface {
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
	Close() error
}

// Session is one isolated browser context with a single page. Every method
// blocks until the browser answers or ctx expires.
type Session interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	// Click resolves label by accessible name first, then by visible text.
	Click(ctx context.Context, label string) error
	// Fill resolves label by associated label text first, then by placeholder.
	Fill(ctx context.Context, label, value string) error
	// Select picks option in the select control resolved like Fill.
	Select(ctx context.Context, option, label string) error
	URL() string
	// TextVisible reports whether the first element containing text is visible.
	TextVisible(ctx context.Context, text string) (bool, error)
	Screenshot(ctx context.Context, path string) error
	// Close tears down the context and flushes video and trace files.
	Close() (Artifacts, error)
}
