package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/feedhub/feedhub-api/internal/models"
)

const commentColumns = `id, post_id, author_id, content, deleted_at, created_at, updated_at`

// CommentRepository provides database access for comments.
type CommentRepository struct {
	db *sqlx.DB
}

// NewCommentRepository creates a new instance of CommentRepository.
func NewCommentRepository(db *sqlx.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

// FindByID returns a live comment by identifier.
func (r *CommentRepository) FindByID(ctx context.Context, id string) (*models.Comment, error) {
	query := fmt.Sprintf(`SELECT %s FROM comments WHERE id = $1 AND deleted_at IS NULL LIMIT 1`, commentColumns)
	var comment models.Comment
	if err := r.db.GetContext(ctx, &comment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find comment by id: %w", err)
	}
	return &comment, nil
}

// ListByPost returns live comments of a post, oldest first, with total count.
func (r *CommentRepository) ListByPost(ctx context.Context, postID string, page, pageSize int) ([]models.Comment, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s FROM comments WHERE post_id = $1 AND deleted_at IS NULL ORDER BY created_at ASC LIMIT %d OFFSET %d", commentColumns, pageSize, offset)

	var comments []models.Comment
	if err := r.db.SelectContext(ctx, &comments, listQuery, postID); err != nil {
		return nil, 0, fmt.Errorf("list comments: %w", err)
	}

	const countQuery = `SELECT COUNT(*) FROM comments WHERE post_id = $1 AND deleted_at IS NULL`
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, postID); err != nil {
		return nil, 0, fmt.Errorf("count comments: %w", err)
	}

	return comments, total, nil
}

// CountByAuthor returns the number of live comments owned by a user.
func (r *CommentRepository) CountByAuthor(ctx context.Context, authorID string) (int, error) {
	const query = `SELECT COUNT(*) FROM comments WHERE author_id = $1 AND deleted_at IS NULL`
	var count int
	if err := r.db.GetContext(ctx, &count, query, authorID); err != nil {
		return 0, fmt.Errorf("count comments by author: %w", err)
	}
	return count, nil
}

// Create inserts a new comment.
func (r *CommentRepository) Create(ctx context.Context, comment *models.Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = now
	}
	comment.UpdatedAt = now

	const query = `INSERT INTO comments (id, post_id, author_id, content, created_at, updated_at) VALUES (:id, :post_id, :author_id, :content, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, comment); err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

// Update persists the content of a comment.
func (r *CommentRepository) Update(ctx context.Context, comment *models.Comment) error {
	comment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE comments SET content = :content, updated_at = :updated_at WHERE id = :id AND deleted_at IS NULL`
	if _, err := r.db.NamedExecContext(ctx, query, comment); err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	return nil
}

// SoftDelete marks the comment as deleted.
func (r *CommentRepository) SoftDelete(ctx context.Context, id string) error {
	const query = `UPDATE comments SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("soft delete comment: %w", err)
	}
	return nil
}
