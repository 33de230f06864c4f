package models

import (
	"time"

	"gorm.io/datatypes"
)

// Post is the read-only view of a CMS post. The CMS owns the table; this
// service never writes to it.
type Post struct {
	ID           string                      `gorm:"primaryKey;size:255" json:"id"`
	Title        string                      `gorm:"not null;size:500" json:"title"`
	Slug         string                      `gorm:"size:500" json:"slug"`
	Content      string                      `gorm:"type:text" json:"content"`
	Excerpt      string                      `gorm:"type:text" json:"excerpt"`
	CoverImage   string                      `gorm:"size:1024" json:"cover_image"`
	CanonicalURL string                      `gorm:"size:1024" json:"canonical_url"`
	Tags         datatypes.JSONSlice[string] `json:"tags"`
	AuthorName   string                      `gorm:"size:255" json:"author_name"`
	Status       string                      `gorm:"size:50" json:"status"`
	PublishedAt  *time.Time                  `json:"published_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

func (Post) TableName() string { return "posts" }
