// Package testutil builds a fully wired application on the in-memory database for tests.
package testutil

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/benhuang0857/mclass/apps/di"
	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/catalog"
	"github.com/benhuang0857/mclass/core/clubcourse"
	"github.com/benhuang0857/mclass/core/user"
	cachesvc "github.com/benhuang0857/mclass/services/cache"
	emailsvc "github.com/benhuang0857/mclass/services/email"
	eventsvc "github.com/benhuang0857/mclass/services/events"
	logsvc "github.com/benhuang0857/mclass/services/logger"
	metricsvc "github.com/benhuang0857/mclass/services/metrics"
	inmemdb "github.com/benhuang0857/mclass/storage/database/inmem"
)

var loadPasswordsOnce sync.Once

type App struct {
	Conf       *core.Config
	Logger     core.Logger
	DB         *inmemdb.DB
	Repos      *di.Repositories
	Mail       *emailsvc.ConsoleService
	Events     *eventsvc.LogPublisher
	Cache      *cachesvc.MemoryCache
	Metrics    *metricsvc.Metrics
	Validate   *validator.Validate
	Translator ut.Translator
	Services   *di.Services
}

// NewLogger returns a logger that discards everything.
func NewLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
}

// NewApp wires every service on a fresh in-memory database.
func NewApp() *App {
	conf := core.NewTestConfig()
	logger := NewLogger(conf)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	loadPasswordsOnce.Do(func() {
		user.LoadCommonPasswords(logger)
		core.ParseEmailTemplates(conf, logger)
	})

	db := inmemdb.NewDB()
	repos := &di.Repositories{
		Users:         inmemdb.NewUserRepository(db),
		Catalog:       inmemdb.NewCatalogRepository(db),
		Orders:        inmemdb.NewOrderRepository(db),
		ClubCourses:   inmemdb.NewClubCourseRepository(db),
		Counseling:    inmemdb.NewCounselingRepository(db),
		FlipCourses:   inmemdb.NewFlipCourseRepository(db),
		Notifications: inmemdb.NewNotificationRepository(db),
		Comments:      inmemdb.NewCommentRepository(db),
	}
	app := &App{
		Conf:       conf,
		Logger:     logger,
		DB:         db,
		Repos:      repos,
		Mail:       emailsvc.NewConsoleServiceMock(conf, logger),
		Events:     eventsvc.NewLogPublisher(logger),
		Cache:      cachesvc.NewMemoryCache(),
		Metrics:    metricsvc.New("test"),
		Validate:   validate,
		Translator: translator,
	}
	app.Services = di.NewServices(di.ServiceParams{
		Conf:    conf,
		Logger:  logger,
		Repos:   repos,
		Cache:   app.Cache,
		Events:  app.Events,
		MailSvc: app.Mail,
		Metrics: app.Metrics,
	})
	return app
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// CreateProduct creates an active product; a negative stock means unlimited.
func CreateProduct(t *testing.T, svc catalog.ServiceInterface, kind catalog.Kind, name string, priceCents int64, stock int) catalog.Product {
	t.Helper()
	np := catalog.NewProduct{Kind: kind, Name: name, PriceCents: priceCents, Currency: "TWD"}
	if stock >= 0 {
		np.Stock = &stock
	}
	p, err := svc.CreateProduct(context.Background(), np)
	if err != nil {
		t.Fatalf("CreateProduct() failed: %v", err)
	}
	return p
}

// CreateClubCourse schedules a course starting at startsAt for an hour.
func CreateClubCourse(t *testing.T, svc clubcourse.ServiceInterface, title string, productID *string, capacity int, startsAt time.Time) clubcourse.ClubCourse {
	t.Helper()
	c, err := svc.Create(context.Background(), clubcourse.NewClubCourse{
		ProductID: productID,
		Title:     title,
		Capacity:  capacity,
		StartsAt:  startsAt,
		EndsAt:    startsAt.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateClubCourse() failed: %v", err)
	}
	return c
}
