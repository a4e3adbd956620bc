package tiktok

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Recommend (trending) feed API response.

type recommendResponse struct {
	StatusCode int        `json:"statusCode"`
	ItemList   []RawVideo `json:"itemList"`
	HasMore    bool       `json:"hasMore"`
}

// RawVideo is one feed item as TikTok returns it. Pointer fields keep the
// difference between a missing key and a zero value.
type RawVideo struct {
	ID         *string        `json:"id"`
	Desc       *string        `json:"desc"`
	CreateTime *flexInt       `json:"createTime"`
	Author     *rawAuthor     `json:"author"`
	Stats      *rawStats      `json:"stats"`
	Music      *rawMusic      `json:"music"`
	Video      *rawVideoMeta  `json:"video"`
	TextExtra  []rawTextExtra `json:"textExtra"`
	Challenges []rawChallenge `json:"challenges"`
}

type rawAuthor struct {
	UniqueID *string `json:"uniqueId"`
	Nickname *string `json:"nickname"`
}

type rawStats struct {
	DiggCount    *flexInt `json:"diggCount"`
	PlayCount    *flexInt `json:"playCount"`
	CommentCount *flexInt `json:"commentCount"`
	ShareCount   *flexInt `json:"shareCount"`
}

type rawMusic struct {
	Title      *string `json:"title"`
	AuthorName *string `json:"authorName"`
}

type rawVideoMeta struct {
	Duration *flexInt `json:"duration"`
	Cover    *string  `json:"cover"`
}

type rawTextExtra struct {
	HashtagName *string `json:"hashtagName"`
}

type rawChallenge struct {
	Title *string `json:"title"`
}

// flexInt decodes a JSON number or a numeric string. TikTok is inconsistent
// about which one it sends for counters and timestamps.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		data = []byte(s)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		fl, ferr := strconv.ParseFloat(string(data), 64)
		if ferr != nil {
			return fmt.Errorf("%w: not an integer: %s", ErrInvalidResponse, data)
		}
		n = int64(fl)
	}
	*f = flexInt(n)
	return nil
}

func (f *flexInt) ptr() *int64 {
	if f == nil {
		return nil
	}
	v := int64(*f)
	return &v
}
