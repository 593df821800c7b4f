package comment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/user"
)

var (
	// errors
	ErrNotFound       = core.NewNotFoundError("comment not found")
	ErrTargetNotFound = core.NewNotFoundError("comment target not found")
	ErrForbidden      = core.NewForbiddenError("you are not allowed to change this comment")
	errBadParent      = errors.New("replies must answer a top-level comment on the same target")
	errRatingNotAllow = errors.New("only top-level product comments can carry a rating")
	errUnknownTarget  = errors.New("unknown target type")
)

type (
	Repository interface {
		CreateComment(ctx context.Context, c Comment) (Comment, error)
		GetComment(ctx context.Context, id string) (Comment, error)
		// QueryComments returns every comment of the target, flat, oldest first.
		QueryComments(ctx context.Context, target Target, includeHidden bool) ([]Comment, error)
		UpdateComment(ctx context.Context, c Comment) (Comment, error)
		// DeleteComment removes the comment and its replies.
		DeleteComment(ctx context.Context, id string) error
	}

	// TargetResolver checks a target exists and is visible to the caller.
	TargetResolver interface {
		Resolve(ctx context.Context, id string, caller user.User) error
	}

	// ResolverFunc adapts a function to TargetResolver.
	ResolverFunc func(ctx context.Context, id string, caller user.User) error

	ServiceInterface interface {
		Create(ctx context.Context, nc NewComment, caller user.User) (Comment, error)
		List(ctx context.Context, target Target, caller user.User) ([]Comment, error)
		Update(ctx context.Context, id string, uc UpdateComment, caller user.User) (Comment, error)
		Delete(ctx context.Context, id string, caller user.User) error
		SetHidden(ctx context.Context, id string, hidden bool, caller user.User) (Comment, error)
	}

	Service struct {
		repo      Repository
		resolvers map[TargetType]TargetResolver
		notifier  core.Notifier
		logger    core.Logger
	}
)

func (f ResolverFunc) Resolve(ctx context.Context, id string, caller user.User) error {
	return f(ctx, id, caller)
}

var _ ServiceInterface = (*Service)(nil)

func NewService(repo Repository, resolvers map[TargetType]TargetResolver, notifier core.Notifier, logger core.Logger) *Service {
	return &Service{repo: repo, resolvers: resolvers, notifier: notifier, logger: logger}
}

func fieldErr(field string, err error) error {
	return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
}

func (svc *Service) resolve(ctx context.Context, target Target, caller user.User) error {
	r, ok := svc.resolvers[target.Type]
	if !ok {
		return fieldErr("target_type", errUnknownTarget)
	}
	if err := r.Resolve(ctx, target.ID, caller); err != nil {
		if core.IsKind(err, core.KindNotFound) {
			return ErrTargetNotFound
		}
		return errors.Wrap(err, "resolving comment target")
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, nc NewComment, caller user.User) (Comment, error) {
	if err := svc.resolve(ctx, nc.Target, caller); err != nil {
		return Comment{}, err
	}

	var parent Comment
	if nc.ParentID != nil && *nc.ParentID != "" {
		var err error
		if parent, err = svc.repo.GetComment(ctx, *nc.ParentID); err != nil {
			if errors.Cause(err) == ErrNotFound {
				return Comment{}, fieldErr("parent_id", err)
			}
			return Comment{}, err
		}
		if parent.IsReply() || parent.TargetType != nc.Type || parent.TargetID != nc.ID || (parent.IsHidden && !caller.IsAdmin()) {
			return Comment{}, fieldErr("parent_id", errBadParent)
		}
	}
	if nc.Rating != nil && (parent.ID != "" || nc.Type != TargetProduct) {
		return Comment{}, fieldErr("rating", errRatingNotAllow)
	}

	now := time.Now().UTC()
	c := Comment{
		AuthorID:   caller.ID,
		TargetType: nc.Type,
		TargetID:   nc.ID,
		Body:       nc.Body,
		Rating:     null.IntFromPtr(nc.Rating),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if parent.ID != "" {
		c.ParentID = null.StringFrom(parent.ID)
	}
	c, err := svc.repo.CreateComment(ctx, c)
	if err != nil {
		return Comment{}, err
	}

	if parent.ID != "" && parent.AuthorID != caller.ID {
		_, err := svc.notifier.Notify(ctx, core.Notice{
			UserID: parent.AuthorID,
			Kind:   "comment.reply",
			Title:  "New reply to your comment",
			Body:   fmt.Sprintf("%s replied: %s", caller.Name, excerpt(c.Body, 140)),
			Data: map[string]interface{}{
				"comment_id":  c.ID,
				"parent_id":   parent.ID,
				"target_type": c.TargetType,
				"target_id":   c.TargetID,
			},
			DedupeKey: "comment.reply:" + c.ID,
		})
		if err != nil {
			svc.logger.Error(fmt.Sprintf("comment %s: notifying parent author: %v", c.ID, err), err)
		}
	}
	return c, nil
}

// List returns the top-level comments of the target, newest first, each with its replies oldest first.
func (svc *Service) List(ctx context.Context, target Target, caller user.User) ([]Comment, error) {
	if err := svc.resolve(ctx, target, caller); err != nil {
		return nil, err
	}
	flat, err := svc.repo.QueryComments(ctx, target, caller.IsAdmin())
	if err != nil {
		return nil, err
	}
	return thread(flat), nil
}

// thread nests replies under their parents. Replies of missing (hidden) parents are dropped.
func thread(flat []Comment) []Comment {
	sort.SliceStable(flat, func(i, j int) bool { return flat[i].CreatedAt.Before(flat[j].CreatedAt) })

	idx := make(map[string]int)
	top := make([]Comment, 0, len(flat))
	for _, c := range flat {
		if !c.IsReply() {
			idx[c.ID] = len(top)
			top = append(top, c)
		}
	}
	for _, c := range flat {
		if !c.IsReply() {
			continue
		}
		if i, ok := idx[c.ParentID.String]; ok {
			top[i].Replies = append(top[i].Replies, c)
		}
	}
	for i, j := 0, len(top)-1; i < j; i, j = i+1, j-1 {
		top[i], top[j] = top[j], top[i]
	}
	return top
}

func (svc *Service) Update(ctx context.Context, id string, uc UpdateComment, caller user.User) (Comment, error) {
	c, err := svc.repo.GetComment(ctx, id)
	if err != nil {
		return Comment{}, err
	}
	if c.AuthorID != caller.ID {
		return Comment{}, ErrForbidden
	}
	if uc.Body != nil && *uc.Body != "" {
		c.Body = *uc.Body
	}
	if uc.Rating != nil {
		if c.IsReply() || c.TargetType != TargetProduct {
			return Comment{}, fieldErr("rating", errRatingNotAllow)
		}
		c.Rating = null.IntFrom(*uc.Rating)
	}
	c.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateComment(ctx, c)
}

func (svc *Service) Delete(ctx context.Context, id string, caller user.User) error {
	c, err := svc.repo.GetComment(ctx, id)
	if err != nil {
		return err
	}
	if c.AuthorID != caller.ID && !caller.IsAdmin() {
		return ErrForbidden
	}
	return svc.repo.DeleteComment(ctx, id)
}

func (svc *Service) SetHidden(ctx context.Context, id string, hidden bool, caller user.User) (Comment, error) {
	if !caller.IsAdmin() {
		return Comment{}, ErrForbidden
	}
	c, err := svc.repo.GetComment(ctx, id)
	if err != nil {
		return Comment{}, err
	}
	c.IsHidden = hidden
	c.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateComment(ctx, c)
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
