// Package clipboard copies transcript text to the system clipboard.
package clipboard

import (
	"errors"
	"strings"

	cb "github.com/atotto/clipboard"
)

var (
	ErrEmpty       = errors.New("nothing to copy")
	ErrUnsupported = errors.New("no clipboard utility available")
)

// Copy writes text to the clipboard. Whitespace-only text is refused.
func Copy(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmpty
	}
	if cb.Unsupported {
		return ErrUnsupported
	}
	return cb.WriteAll(text)
}

func Read() (string, error) {
	if cb.Unsupported {
		return "", ErrUnsupported
	}
	return cb.ReadAll()
}
