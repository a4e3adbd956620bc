package tiktok

// VideoRecord is the canonical, flattened shape of one trending video. Nil
// pointers mean the source item did not carry the field; they encode as null.
type VideoRecord struct {
	VideoID         string   `json:"video_id"`
	AuthorID        *string  `json:"author_id"`
	VideoURL        *string  `json:"video_url"`
	Description     *string  `json:"description"`
	CreateTime      *string  `json:"create_time"`
	AuthorName      *string  `json:"author_name"`
	Likes           *int64   `json:"likes"`
	Views           *int64   `json:"views"`
	Comments        *int64   `json:"comments"`
	Shares          *int64   `json:"shares"`
	MusicTitle      *string  `json:"music_title"`
	MusicAuthorName *string  `json:"music_author_name"`
	VideoDuration   *int64   `json:"video_duration"`
	CoverImage      *string  `json:"cover_image"`
	Hashtags        []string `json:"hashtags"`
	Challenges      []string `json:"challenges"`
}
