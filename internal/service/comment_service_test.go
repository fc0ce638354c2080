package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feedhub/feedhub-api/internal/models"
	appErrors "github.com/feedhub/feedhub-api/pkg/errors"
)

type fakeCommentRepo struct {
	comments map[string]*models.Comment
	nextID   int
}

func newFakeCommentRepo() *fakeCommentRepo {
	return &fakeCommentRepo{comments: make(map[string]*models.Comment)}
}

func (f *fakeCommentRepo) FindByID(ctx context.Context, id string) (*models.Comment, error) {
	c, ok := f.comments[id]
	if !ok || c.DeletedAt != nil {
		return nil, sql.ErrNoRows
	}
	return c, nil
}

func (f *fakeCommentRepo) ListByPost(ctx context.Context, postID string, page, pageSize int) ([]models.Comment, int, error) {
	var out []models.Comment
	for _, c := range f.comments {
		if c.PostID == postID && c.DeletedAt == nil {
			out = append(out, *c)
		}
	}
	return out, len(out), nil
}

func (f *fakeCommentRepo) Create(ctx context.Context, comment *models.Comment) error {
	f.nextID++
	comment.ID = fmt.Sprintf("c-%d", f.nextID)
	f.comments[comment.ID] = comment
	return nil
}

func (f *fakeCommentRepo) Update(ctx context.Context, comment *models.Comment) error {
	f.comments[comment.ID] = comment
	return nil
}

func (f *fakeCommentRepo) SoftDelete(ctx context.Context, id string) error {
	if c, ok := f.comments[id]; ok {
		now := time.Now().UTC()
		c.DeletedAt = &now
	}
	return nil
}

func newTestCommentService(comments *fakeCommentRepo, posts *fakePostRepo) *CommentService {
	return NewCommentService(comments, posts, validator.New(), zap.NewNop())
}

func TestCommentServiceCreateRequiresPost(t *testing.T) {
	svc := newTestCommentService(newFakeCommentRepo(), newFakePostRepo())

	_, err := svc.Create(context.Background(), "missing", "u1", CommentRequest{Content: "hello"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCommentServiceCreateAndList(t *testing.T) {
	posts := newFakePostRepo()
	post := seedPost(t, posts, "author", true)
	svc := newTestCommentService(newFakeCommentRepo(), posts)

	comment, err := svc.Create(context.Background(), post.ID, "u1", CommentRequest{Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, post.ID, comment.PostID)

	comments, pagination, err := svc.ListByPost(context.Background(), post.ID, 1, 20)
	require.NoError(t, err)
	assert.Len(t, comments, 1)
	assert.Equal(t, 1, pagination.TotalCount)
}

func TestCommentServiceUpdateOwnerOnly(t *testing.T) {
	posts := newFakePostRepo()
	post := seedPost(t, posts, "author", true)
	svc := newTestCommentService(newFakeCommentRepo(), posts)

	comment, err := svc.Create(context.Background(), post.ID, "u1", CommentRequest{Content: "hello"})
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), comment.ID, &models.User{ID: "u2"}, CommentRequest{Content: "edited"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	updated, err := svc.Update(context.Background(), comment.ID, &models.User{ID: "u1"}, CommentRequest{Content: "edited"})
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Content)
}

func TestCommentServiceDeleteAdminOverride(t *testing.T) {
	posts := newFakePostRepo()
	post := seedPost(t, posts, "author", true)
	svc := newTestCommentService(newFakeCommentRepo(), posts)

	comment, err := svc.Create(context.Background(), post.ID, "u1", CommentRequest{Content: "hello"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), comment.ID, &models.User{ID: "mod", IsAdmin: true}))

	_, _, err = svc.ListByPost(context.Background(), post.ID, 1, 20)
	require.NoError(t, err)
	comments, _, _ := svc.ListByPost(context.Background(), post.ID, 1, 20)
	assert.Empty(t, comments)
}
