// Package browser provides Chrome detection, launch, and target management.
package browser

import (
	"errors"
	"os"

	"github.com/go-rod/rod/lib/launcher"
)

// ErrChromeNotFound is returned when no Chrome binary can be located.
var ErrChromeNotFound = errors.New("chrome not found")

// FindChrome searches for a Chrome or Chromium binary on the system. It
// first checks the BDG_CHROME environment variable, then defers to
// launcher.LookPath, which searches the per-platform install locations.
// Nothing is downloaded when no local binary is found.
// Returns the path to the executable or ErrChromeNotFound.
func FindChrome() (string, error) {
	if envPath := os.Getenv("BDG_CHROME"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
		return "", ErrChromeNotFound
	}

	if path, found := launcher.LookPath(); found {
		return path, nil
	}

	return "", ErrChromeNotFound
}
