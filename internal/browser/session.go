package browser

import "context"

// Session drives the headless browser that hosts the in-page relay script.
// SwitchTo loads the credential bundle for the given index, brings the page
// to a relay-ready state, and returns once the relay link is live. It is an
// expensive, serialised operation; callers must not overlap invocations.
type Session interface {
	SwitchTo(ctx context.Context, index int) error
}
