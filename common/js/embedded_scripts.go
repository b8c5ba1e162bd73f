package js

import (
	_ "embed"
)

// ElementCenterScript scrolls the element into view and returns the
// viewport coordinates of its center as {x, y}.
//
//go:embed element_center.js
var ElementCenterScript string

// ElementClickScript clicks the element it's called on.
//
//go:embed element_click.js
var ElementClickScript string

// ElementTextScript returns the rendered text of the element, the way a
// user would see it.
//
//go:embed element_text.js
var ElementTextScript string

// QueryCountScript returns how many descendants of this match a selector.
//
//go:embed query_count.js
var QueryCountScript string

// QueryNthScript returns the n-th descendant of this matching a selector,
// or null.
//
//go:embed query_nth.js
var QueryNthScript string

// PlayerStateScript asks the page's video player for its playback state
// code.
//
//go:embed player_state.js
var PlayerStateScript string
