package models

import "time"

// Post is an authored entry, optionally assigned to a category.
type Post struct {
	ID         string     `db:"id" json:"id"`
	AuthorID   string     `db:"author_id" json:"author_id"`
	CategoryID *string    `db:"category_id" json:"category_id,omitempty"`
	Title      string     `db:"title" json:"title"`
	Content    string     `db:"content" json:"content"`
	Published  bool       `db:"published" json:"published"`
	DeletedAt  *time.Time `db:"deleted_at" json:"-"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// PostFilter captures listing criteria for posts.
type PostFilter struct {
	AuthorID      string
	CategoryID    string
	Search        string
	PublishedOnly bool
	Page          int
	PageSize      int
}
