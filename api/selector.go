package api

import (
	"fmt"
	"strings"
)

// SelectorKind is the strategy used to match elements.
type SelectorKind int

// Supported selector kinds.
const (
	ByCSS SelectorKind = iota
	ByID
	ByClassName
)

// Selector locates elements in a page.
type Selector struct {
	Kind  SelectorKind
	Value string
}

// CSS returns a selector that matches the CSS expression v.
func CSS(v string) Selector { return Selector{Kind: ByCSS, Value: v} }

// ID returns a selector that matches the element with id v.
func ID(v string) Selector { return Selector{Kind: ByID, Value: v} }

// ClassName returns a selector that matches elements with class v.
func ClassName(v string) Selector { return Selector{Kind: ByClassName, Value: v} }

// CSSText converts the selector into a CSS selector string.
func (s Selector) CSSText() string {
	switch s.Kind {
	case ByID:
		return "#" + cssEscape(s.Value)
	case ByClassName:
		return "." + strings.Join(strings.Fields(s.Value), ".")
	default:
		return s.Value
	}
}

func (s Selector) String() string {
	switch s.Kind {
	case ByID:
		return fmt.Sprintf("id=%s", s.Value)
	case ByClassName:
		return fmt.Sprintf("class=%s", s.Value)
	default:
		return fmt.Sprintf("css=%s", s.Value)
	}
}

// cssEscape escapes characters that are not valid in a CSS identifier.
func cssEscape(v string) string {
	var b strings.Builder
	for i, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-', r > 0x7f:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				fmt.Fprintf(&b, "\\%x ", r)
				continue
			}
			b.WriteRune(r)
		default:
			b.WriteRune('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}
