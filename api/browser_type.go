package api

import (
	"context"
)

// BrowserType launches browsers of one kind.
type BrowserType interface {
	ExecutablePath() string
	Launch(ctx context.Context, args []string) (Browser, error)
	Name() string
}
