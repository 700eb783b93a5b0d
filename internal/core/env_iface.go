package core

// Environment reports whether this runtime can place calls at all.
type Environment interface {
	SupportsRealtimeMedia() bool
	// IsSecureContext is true for encrypted broker links and for localhost.
	IsSecureContext() bool
}

// Clipboard copies text for the user.
type Clipboard interface {
	WriteText(text string) error
}

// StatusSink receives human-readable status lines.
type StatusSink interface {
	SetStatus(status string)
}

// StatusFunc adapts a function to StatusSink.
type StatusFunc func(status string)

func (f StatusFunc) SetStatus(status string) { f(status) }
