package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/comment"
)

var commentColumns = []string{
	"id", "author_id", "target_type", "target_id", "parent_id", "body", "rating", "is_hidden", "created_at", "updated_at",
}

type CommentRepository struct {
	db core.DB
}

var _ comment.Repository = (*CommentRepository)(nil)

func NewCommentRepository(db core.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

func (repo *CommentRepository) CreateComment(ctx context.Context, c comment.Comment) (comment.Comment, error) {
	c.ID = uuid.NewString()
	b := psql.Insert("comments").Columns(commentColumns...).Values(
		c.ID, c.AuthorID, c.TargetType, c.TargetID, c.ParentID, c.Body, c.Rating, c.IsHidden, c.CreatedAt, c.UpdatedAt,
	)
	if _, err := exec(ctx, repo.db, b); err != nil {
		return comment.Comment{}, errors.Wrap(err, "inserting comment")
	}
	return c, nil
}

func (repo *CommentRepository) GetComment(ctx context.Context, id string) (comment.Comment, error) {
	if !isUUID(id) {
		return comment.Comment{}, comment.ErrNotFound
	}
	var c comment.Comment
	if err := get(ctx, repo.db, &c, psql.Select(commentColumns...).From("comments").Where(sq.Eq{"id": id})); err != nil {
		return comment.Comment{}, trapNoRows(err, comment.ErrNotFound, "getting comment")
	}
	return c, nil
}

func (repo *CommentRepository) QueryComments(ctx context.Context, target comment.Target, includeHidden bool) ([]comment.Comment, error) {
	b := psql.Select(commentColumns...).From("comments").
		Where(sq.Eq{"target_type": target.Type, "target_id": target.ID}).
		OrderBy("created_at ASC")
	if !includeHidden {
		b = b.Where(sq.Eq{"is_hidden": false})
	}
	var list []comment.Comment
	if err := selectAll(ctx, repo.db, &list, b); err != nil {
		return nil, errors.Wrap(err, "querying comments")
	}
	return list, nil
}

func (repo *CommentRepository) UpdateComment(ctx context.Context, c comment.Comment) (comment.Comment, error) {
	res, err := exec(ctx, repo.db, psql.Update("comments").SetMap(map[string]interface{}{
		"body":       c.Body,
		"rating":     c.Rating,
		"is_hidden":  c.IsHidden,
		"updated_at": c.UpdatedAt,
	}).Where(sq.Eq{"id": c.ID}))
	if err != nil {
		return comment.Comment{}, errors.Wrap(err, "updating comment")
	}
	return c, affected(res, comment.ErrNotFound)
}

// DeleteComment relies on the parent_id foreign key to cascade to the replies.
func (repo *CommentRepository) DeleteComment(ctx context.Context, id string) error {
	res, err := exec(ctx, repo.db, psql.Delete("comments").Where(sq.Eq{"id": id}))
	if err != nil {
		return errors.Wrap(err, "deleting comment")
	}
	return affected(res, comment.ErrNotFound)
}
