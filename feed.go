package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/url"
	"strconv"
)

// feedPageSize is how many items the recommend endpoint is asked for per call.
const feedPageSize = 30

// Trending streams up to count items from the trending feed. The sequence is
// lazy and not restartable: ranging over it again pulls fresh pages from the
// feed's current state. An error is yielded once and ends the sequence.
func (s *Session) Trending(ctx context.Context, count int) iter.Seq2[RawVideo, error] {
	return func(yield func(RawVideo, error) bool) {
		pulled := 0
		for pulled < count {
			videos, hasMore, err := s.fetchTrending(ctx, min(feedPageSize, count-pulled))
			if err != nil {
				yield(RawVideo{}, fmt.Errorf("trending page after %d items: %w", pulled, err))
				return
			}
			for _, v := range videos {
				if pulled >= count {
					return
				}
				pulled++
				if !yield(v, nil) {
					return
				}
			}
			if !hasMore || len(videos) == 0 {
				return
			}
		}
	}
}

func (s *Session) fetchTrending(ctx context.Context, count int) ([]RawVideo, bool, error) {
	q := url.Values{}
	q.Set("aid", "1988")
	q.Set("app_language", "en")
	q.Set("browser_language", "en-US")
	q.Set("browser_name", "Mozilla")
	q.Set("browser_platform", "Win32")
	q.Set("device_platform", "web_pc")
	q.Set("from_page", "fyp")
	q.Set("count", strconv.Itoa(count))
	q.Set("msToken", s.msToken)
	rawURL := s.baseURL + "/api/recommend/item_list/?" + q.Encode()

	// Sign URL via browser JS. Mutex protects the single-threaded browser page.
	s.browserMu.Lock()
	signedURL, err := s.signFunc(rawURL)
	s.browserMu.Unlock()
	if err != nil {
		return nil, false, fmt.Errorf("sign trending url: %w", err)
	}

	if err := s.waitForFeed(ctx); err != nil {
		return nil, false, err
	}

	resp, err := s.doRequest(ctx, "GET", signedURL, nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read trending response: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, false, fmt.Errorf("%w: empty trending response (status %d)", ErrInvalidResponse, resp.StatusCode)
	}

	var result recommendResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, false, fmt.Errorf("decode trending response: %w", err)
	}
	if result.StatusCode != 0 {
		return nil, false, fmt.Errorf("%w: trending status code %d", ErrInvalidResponse, result.StatusCode)
	}

	s.logger.Debug().Int("items", len(result.ItemList)).Bool("has_more", result.HasMore).Msg("trending page")
	return result.ItemList, result.HasMore, nil
}
