//go:build unittest

package tiktok

import (
	"context"
	"fmt"
)

// RodLauncher is unavailable in unittest builds.
type RodLauncher struct {
	Bin string
}

func (r *RodLauncher) Launch(ctx context.Context, opts BrowserOptions) (BrowserInstance, error) {
	return nil, fmt.Errorf("%w: %w (build tag: unittest)", ErrBrowserLaunch, ErrBrowserNotReady)
}

func (s *Session) InitBrowser(ctx context.Context) error {
	return fmt.Errorf("browser: %w (build tag: unittest)", ErrBrowserNotReady)
}

func (s *Session) signURL(rawURL string) (string, error) {
	return "", ErrBrowserNotReady
}

func (s *Session) closeBrowser() error {
	s.page = nil
	s.browser = nil
	s.launcher = nil
	if s.browserCancel != nil {
		s.browserCancel()
		s.browserCancel = nil
	}
	return nil
}
