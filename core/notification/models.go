package notification

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/benhuang0857/mclass/core"
)

type Notification struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	Kind      string                 `json:"kind"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Data      map[string]interface{} `json:"data"`
	DedupeKey string                 `json:"-"`
	ReadAt    null.Time              `json:"read_at"`
	EmailedAt null.Time              `json:"emailed_at"`
	CreatedAt time.Time              `json:"created_at"`
}

func (n Notification) IsRead() bool { return n.ReadAt.Valid }

type QueryFilter struct {
	UserID     string `query:"-"`
	UnreadOnly bool   `query:"unread"`
	core.Page
}
