package models

import "time"

// Comment is a reply attached to a post.
type Comment struct {
	ID        string     `db:"id" json:"id"`
	PostID    string     `db:"post_id" json:"post_id"`
	AuthorID  string     `db:"author_id" json:"author_id"`
	Content   string     `db:"content" json:"content"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}
