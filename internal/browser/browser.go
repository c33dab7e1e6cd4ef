package browser

import (
	"context"
	"fmt"
	"io"
	"sync"

	pkgbrowser "github.com/pkg/browser"
)

//go:generate mockgen -source browser.go -destination mock/browser.go

// Opener opens a URL in the user's browser.
type Opener interface {
	Open(ctx context.Context, url string) error
}

var silenceOnce sync.Once

// silence keeps launcher chatter such as xdg-open warnings off the console.
func silence() {
	silenceOnce.Do(func() {
		pkgbrowser.Stdout = io.Discard
		pkgbrowser.Stderr = io.Discard
	})
}

// CommandOpener opens URLs with the platform's default handler.
type CommandOpener struct {
	openURL func(url string) error
}

// NewCommandOpener returns an Opener backed by github.com/pkg/browser.
func NewCommandOpener() *CommandOpener {
	silence()

	return &CommandOpener{
		openURL: pkgbrowser.OpenURL,
	}
}

// Open launches the browser. A cancelled ctx skips the launch.
func (o *CommandOpener) Open(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := o.openURL(url); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}

	return nil
}
