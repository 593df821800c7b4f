package inmemdb

import (
	"context"
	"sort"

	"github.com/benhuang0857/mclass/core/comment"
)

type CommentRepository struct {
	db *DB
}

var _ comment.Repository = (*CommentRepository)(nil)

func NewCommentRepository(db *DB) *CommentRepository {
	return &CommentRepository{db: db}
}

func (repo *CommentRepository) CreateComment(_ context.Context, c comment.Comment) (comment.Comment, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	c.ID = newID()
	c.Replies = nil
	repo.db.comments[c.ID] = c
	return c, nil
}

func (repo *CommentRepository) GetComment(_ context.Context, id string) (comment.Comment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if c, ok := repo.db.comments[id]; ok {
		return c, nil
	}
	return comment.Comment{}, comment.ErrNotFound
}

func (repo *CommentRepository) QueryComments(_ context.Context, target comment.Target, includeHidden bool) ([]comment.Comment, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	list := make([]comment.Comment, 0)
	for _, c := range repo.db.comments {
		if c.TargetType != target.Type || c.TargetID != target.ID || (c.IsHidden && !includeHidden) {
			continue
		}
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func (repo *CommentRepository) UpdateComment(_ context.Context, c comment.Comment) (comment.Comment, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.comments[c.ID]; !ok {
		return comment.Comment{}, comment.ErrNotFound
	}
	c.Replies = nil
	repo.db.comments[c.ID] = c
	return c, nil
}

func (repo *CommentRepository) DeleteComment(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.comments[id]; !ok {
		return comment.ErrNotFound
	}
	delete(repo.db.comments, id)
	for rid, c := range repo.db.comments {
		if c.ParentID.String == id {
			delete(repo.db.comments, rid)
		}
	}
	return nil
}
