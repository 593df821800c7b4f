// Package inmemdb implements the repositories in memory. It backs the tests and the demo mode.
// Orderings passed to the Query methods are ignored: results come in each repository's default order.
package inmemdb

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/benhuang0857/mclass/core/catalog"
	"github.com/benhuang0857/mclass/core/clubcourse"
	"github.com/benhuang0857/mclass/core/comment"
	"github.com/benhuang0857/mclass/core/counseling"
	"github.com/benhuang0857/mclass/core/flipcourse"
	"github.com/benhuang0857/mclass/core/notification"
	"github.com/benhuang0857/mclass/core/order"
	"github.com/benhuang0857/mclass/core/user"
)

// DB holds every table behind a single lock, so multi-table writes are atomic.
type DB struct {
	mutex sync.RWMutex

	users         map[string]user.User
	categories    map[string]catalog.Category
	products      map[string]catalog.Product
	orders        map[string]order.Order
	clubCourses   map[string]clubcourse.ClubCourse
	members       map[string][]clubcourse.Enrollment // by club course
	appointments  map[string]counseling.Appointment
	flipCourses   map[string]flipcourse.FlipCourse
	prescriptions map[string]flipcourse.Prescription
	analyses      map[string]flipcourse.Analysis
	notifications map[string]notification.Notification
	comments      map[string]comment.Comment
}

func NewDB() *DB {
	return &DB{
		users:         make(map[string]user.User),
		categories:    make(map[string]catalog.Category),
		products:      make(map[string]catalog.Product),
		orders:        make(map[string]order.Order),
		clubCourses:   make(map[string]clubcourse.ClubCourse),
		members:       make(map[string][]clubcourse.Enrollment),
		appointments:  make(map[string]counseling.Appointment),
		flipCourses:   make(map[string]flipcourse.FlipCourse),
		prescriptions: make(map[string]flipcourse.Prescription),
		analyses:      make(map[string]flipcourse.Analysis),
		notifications: make(map[string]notification.Notification),
		comments:      make(map[string]comment.Comment),
	}
}

func newID() string { return uuid.NewString() }

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// inWindow reports whether t is in [from, to); zero bounds are open.
func inWindow(t, from, to time.Time) bool {
	return (from.IsZero() || !t.Before(from)) && (to.IsZero() || t.Before(to))
}
