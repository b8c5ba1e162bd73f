package api

import "errors"

// These errors classify failures across the session, sampling and
// persistence layers. They are always wrapped, so match them with
// errors.Is.
var (
	// ErrSessionStart is returned when the browser can't be launched or
	// the target page can't be reached.
	ErrSessionStart = errors.New("starting browser session")

	// ErrElementNotFound is returned when an element doesn't show up
	// before the locate timeout, or a query matches nothing.
	ErrElementNotFound = errors.New("element not found")

	// ErrScriptExecution is returned when a script evaluated in the page
	// throws or returns an unexpected value.
	ErrScriptExecution = errors.New("executing script")

	// ErrProbe is returned when the latency probe fails or its output
	// can't be parsed.
	ErrProbe = errors.New("probing latency")

	// ErrPersist is returned when the trace can't be written.
	ErrPersist = errors.New("persisting trace")
)
