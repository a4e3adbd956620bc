package tiktok

import "errors"

var (
	ErrRateLimited     = errors.New("tiktok: rate limited")
	ErrNotFound        = errors.New("tiktok: not found")
	ErrSigningFailed   = errors.New("tiktok: url signing failed")
	ErrBrowserNotReady = errors.New("tiktok: browser not initialized")
	ErrInvalidResponse = errors.New("tiktok: invalid response")

	ErrEmptyProxyPool    = errors.New("tiktok: proxy pool is empty")
	ErrNoTokens          = errors.New("tiktok: no session tokens harvested")
	ErrNoSessions        = errors.New("tiktok: no feed sessions could be opened")
	ErrBrowserLaunch     = errors.New("tiktok: browser launch failed")
	ErrNavigationTimeout = errors.New("tiktok: navigation timed out")
	ErrProxyFailed       = errors.New("tiktok: proxy connection failed")
	ErrTokenNotFound     = errors.New("tiktok: msToken cookie not found")
	ErrSessionPanic      = errors.New("tiktok: feed session panicked")
)
