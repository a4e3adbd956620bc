package tiktok

import "time"

// NormalizeVideo flattens a raw feed item into a VideoRecord. It returns false
// when the item has no video id; such items are never recorded.
func NormalizeVideo(raw RawVideo) (VideoRecord, bool) {
	if raw.ID == nil || *raw.ID == "" {
		return VideoRecord{}, false
	}

	rec := VideoRecord{
		VideoID:     *raw.ID,
		Description: raw.Desc,
		CreateTime:  isoTime(raw.CreateTime),
		Hashtags:    []string{},
		Challenges:  []string{},
	}

	if a := raw.Author; a != nil {
		rec.AuthorID = a.UniqueID
		if a.UniqueID != nil && *a.UniqueID != "" {
			u := videoURL(*a.UniqueID, rec.VideoID)
			rec.VideoURL = &u
		}
		rec.AuthorName = a.Nickname
	}
	if s := raw.Stats; s != nil {
		rec.Likes = s.DiggCount.ptr()
		rec.Views = s.PlayCount.ptr()
		rec.Comments = s.CommentCount.ptr()
		rec.Shares = s.ShareCount.ptr()
	}
	if m := raw.Music; m != nil {
		rec.MusicTitle = m.Title
		rec.MusicAuthorName = m.AuthorName
	}
	if v := raw.Video; v != nil {
		rec.VideoDuration = v.Duration.ptr()
		rec.CoverImage = v.Cover
	}
	for _, t := range raw.TextExtra {
		if t.HashtagName != nil {
			rec.Hashtags = append(rec.Hashtags, *t.HashtagName)
		}
	}
	for _, c := range raw.Challenges {
		if c.Title != nil {
			rec.Challenges = append(rec.Challenges, *c.Title)
		}
	}
	return rec, true
}

func videoURL(authorID, videoID string) string {
	return "https://www.tiktok.com/@" + authorID + "/video/" + videoID
}

// isoTime converts an epoch-seconds field to RFC 3339 in UTC. A missing or
// zero timestamp yields nil.
func isoTime(epoch *flexInt) *string {
	if epoch == nil || *epoch == 0 {
		return nil
	}
	s := time.Unix(int64(*epoch), 0).UTC().Format(time.RFC3339)
	return &s
}

// RecordSet is an insertion-ordered set of VideoRecords keyed by video id.
// It is built once by Dedupe and read-only afterwards.
type RecordSet struct {
	order []string
	byID  map[string]VideoRecord
}

// Dedupe normalizes raw items in arrival order. The first item seen for a
// video id wins; later duplicates and items without an id are dropped.
func Dedupe(items []RawVideo) *RecordSet {
	set := &RecordSet{byID: make(map[string]VideoRecord, len(items))}
	for _, raw := range items {
		if raw.ID == nil {
			continue
		}
		if _, seen := set.byID[*raw.ID]; seen {
			continue
		}
		rec, ok := NormalizeVideo(raw)
		if !ok {
			continue
		}
		set.byID[rec.VideoID] = rec
		set.order = append(set.order, rec.VideoID)
	}
	return set
}

// Len returns the number of unique records.
func (s *RecordSet) Len() int {
	return len(s.order)
}

// Get returns a copy of the record for id.
func (s *RecordSet) Get(id string) (VideoRecord, bool) {
	rec, ok := s.byID[id]
	if !ok {
		return VideoRecord{}, false
	}
	return rec.clone(), true
}

// IDs returns video ids in first-seen order.
func (s *RecordSet) IDs() []string {
	return append([]string(nil), s.order...)
}

// Records returns copies of the records in first-seen order. Mutating them
// never changes the set.
func (s *RecordSet) Records() []VideoRecord {
	out := make([]VideoRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].clone())
	}
	return out
}

func (r VideoRecord) clone() VideoRecord {
	r.AuthorID = clonePtr(r.AuthorID)
	r.VideoURL = clonePtr(r.VideoURL)
	r.Description = clonePtr(r.Description)
	r.CreateTime = clonePtr(r.CreateTime)
	r.AuthorName = clonePtr(r.AuthorName)
	r.Likes = clonePtr(r.Likes)
	r.Views = clonePtr(r.Views)
	r.Comments = clonePtr(r.Comments)
	r.Shares = clonePtr(r.Shares)
	r.MusicTitle = clonePtr(r.MusicTitle)
	r.MusicAuthorName = clonePtr(r.MusicAuthorName)
	r.VideoDuration = clonePtr(r.VideoDuration)
	r.CoverImage = clonePtr(r.CoverImage)
	r.Hashtags = append([]string{}, r.Hashtags...)
	r.Challenges = append([]string{}, r.Challenges...)
	return r
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
