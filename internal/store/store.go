// Package store writes canonical video records to PostgreSQL. Writes are
// insert-only: a video_id already present is left untouched.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver for sqlx and golang-migrate

	tiktok "github.com/RavensCloud/tiktok-trending"
	"github.com/RavensCloud/tiktok-trending/internal/config"
)

// Sink persists record batches.
type Sink interface {
	// Insert writes records and returns how many rows were newly inserted.
	Insert(ctx context.Context, records []tiktok.VideoRecord) (int, error)
	Close() error
}

const namedInsertSQL = `
INSERT INTO tiktok_videos (
    video_id, author_id, video_url, description, create_time,
    author_name, likes, views, comments, shares,
    music_title, music_author_name, video_duration,
    cover_image, hashtags, challenges
) VALUES (
    :video_id, :author_id, :video_url, :description, :create_time,
    :author_name, :likes, :views, :comments, :shares,
    :music_title, :music_author_name, :video_duration,
    :cover_image, :hashtags, :challenges
)
ON CONFLICT (video_id) DO NOTHING`

const positionalInsertSQL = `
INSERT INTO tiktok_videos (
    video_id, author_id, video_url, description, create_time,
    author_name, likes, views, comments, shares,
    music_title, music_author_name, video_duration,
    cover_image, hashtags, challenges
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (video_id) DO NOTHING`

// videoRow is a VideoRecord with its list fields JSON-encoded.
type videoRow struct {
	VideoID         string  `db:"video_id"`
	AuthorID        *string `db:"author_id"`
	VideoURL        *string `db:"video_url"`
	Description     *string `db:"description"`
	CreateTime      *string `db:"create_time"`
	AuthorName      *string `db:"author_name"`
	Likes           *int64  `db:"likes"`
	Views           *int64  `db:"views"`
	Comments        *int64  `db:"comments"`
	Shares          *int64  `db:"shares"`
	MusicTitle      *string `db:"music_title"`
	MusicAuthorName *string `db:"music_author_name"`
	VideoDuration   *int64  `db:"video_duration"`
	CoverImage      *string `db:"cover_image"`
	Hashtags        string  `db:"hashtags"`
	Challenges      string  `db:"challenges"`
}

func toRow(rec tiktok.VideoRecord) (videoRow, error) {
	hashtags, err := encodeList(rec.Hashtags)
	if err != nil {
		return videoRow{}, fmt.Errorf("encode hashtags for %s: %w", rec.VideoID, err)
	}
	challenges, err := encodeList(rec.Challenges)
	if err != nil {
		return videoRow{}, fmt.Errorf("encode challenges for %s: %w", rec.VideoID, err)
	}
	return videoRow{
		VideoID:         rec.VideoID,
		AuthorID:        rec.AuthorID,
		VideoURL:        rec.VideoURL,
		Description:     rec.Description,
		CreateTime:      rec.CreateTime,
		AuthorName:      rec.AuthorName,
		Likes:           rec.Likes,
		Views:           rec.Views,
		Comments:        rec.Comments,
		Shares:          rec.Shares,
		MusicTitle:      rec.MusicTitle,
		MusicAuthorName: rec.MusicAuthorName,
		VideoDuration:   rec.VideoDuration,
		CoverImage:      rec.CoverImage,
		Hashtags:        hashtags,
		Challenges:      challenges,
	}, nil
}

func (r videoRow) args() []any {
	return []any{
		r.VideoID, r.AuthorID, r.VideoURL, r.Description, r.CreateTime,
		r.AuthorName, r.Likes, r.Views, r.Comments, r.Shares,
		r.MusicTitle, r.MusicAuthorName, r.VideoDuration,
		r.CoverImage, r.Hashtags, r.Challenges,
	}
}

// encodeList renders a list as a JSON array; nil encodes as [].
func encodeList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Open connects to the database named by cfg using its driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Sink, error) {
	switch cfg.Driver {
	case "", "postgres":
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return NewSQLStore(db), nil
	case "pgx":
		pool, err := pgxpool.New(ctx, cfg.URL())
		if err != nil {
			return nil, fmt.Errorf("create pgx pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return NewPGStore(pool, cfg.BatchSize), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
