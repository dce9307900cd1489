package extract

import (
	"math"
	"time"
)

// Kind is the record type an endpoint produces.
type Kind string

const (
	KindManga   Kind = "manga"
	KindChapter Kind = "chapter"
	KindPage    Kind = "page"
)

// UnknownTitle is the sentinel written when no title could be extracted.
// Records carrying it are never emitted.
const UnknownTitle = "Unknown Title"

// DefaultPlaceholderImage is used when a record has no image.
const DefaultPlaceholderImage = "https://placehold.co/300x450?text=No+Cover"

// Record is a normalised manga, chapter or page listing.
type Record struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	Source       string    `json:"source"`
	Title        string    `json:"title"`
	URL          string    `json:"url,omitempty"`
	Image        string    `json:"image"`
	Description  string    `json:"description,omitempty"`
	ChapterCount int       `json:"chapter_count"`
	PageCount    int       `json:"page_count"`
	Rating       float64   `json:"rating"`
	UpdatedAt    time.Time `json:"updated_at"`
	ExtractedAt  time.Time `json:"extracted_at"`
	Popularity   float64   `json:"popularity"`
	Trending     float64   `json:"trending"`
}

// Valid reports whether the record has a real title.
func (r *Record) Valid() bool {
	return r.Title != "" && r.Title != UnknownTitle
}

// Popularity is rating*0.6 + chapterCount*0.4.
func Popularity(rating float64, chapters int) float64 {
	return rating*0.6 + float64(chapters)*0.4
}

// Trending decays popularity by e^(-ageDays*0.1). Future timestamps count
// as age zero.
func Trending(popularity float64, updated, now time.Time) float64 {
	age := now.Sub(updated).Hours() / 24
	if age < 0 {
		age = 0
	}
	return popularity * math.Exp(-age*0.1)
}

// normalize fills the derived scores.
func (r *Record) normalize() {
	r.Popularity = Popularity(r.Rating, r.ChapterCount)
	r.Trending = Trending(r.Popularity, r.UpdatedAt, r.ExtractedAt)
}
