// Package di wires the application with a dig container. Both the API and the admin CLI build on it.
package di

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/benhuang0857/mclass/apps/api/echo"
	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/catalog"
	"github.com/benhuang0857/mclass/core/clubcourse"
	"github.com/benhuang0857/mclass/core/comment"
	"github.com/benhuang0857/mclass/core/counseling"
	"github.com/benhuang0857/mclass/core/flipcourse"
	"github.com/benhuang0857/mclass/core/notification"
	"github.com/benhuang0857/mclass/core/order"
	"github.com/benhuang0857/mclass/core/reminder"
	"github.com/benhuang0857/mclass/core/user"
	cachesvc "github.com/benhuang0857/mclass/services/cache"
	emailsvc "github.com/benhuang0857/mclass/services/email"
	eventsvc "github.com/benhuang0857/mclass/services/events"
	logsvc "github.com/benhuang0857/mclass/services/logger"
	metricsvc "github.com/benhuang0857/mclass/services/metrics"
	"github.com/benhuang0857/mclass/storage/database"
	inmemdb "github.com/benhuang0857/mclass/storage/database/inmem"
	sqlxrepos "github.com/benhuang0857/mclass/storage/database/sqlx"
)

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	// Closers collects the cleanups of the resources opened while building the container.
	Closers struct {
		fns []func() error
	}

	// Storage is the opened database; DB is nil with the inmem engine.
	Storage struct {
		DB    *sqlx.DB
		InMem *inmemdb.DB
	}

	Repositories struct {
		Users         user.Repository
		Catalog       catalog.Repository
		Orders        order.Repository
		ClubCourses   clubcourse.Repository
		Counseling    counseling.Repository
		FlipCourses   flipcourse.Repository
		Notifications notification.Repository
		Comments      comment.Repository
	}

	ServiceParams struct {
		dig.In

		Conf    *core.Config
		Logger  core.Logger
		Repos   *Repositories
		Cache   core.Cache
		Events  core.EventPublisher
		MailSvc core.EmailService
		Metrics *metricsvc.Metrics `optional:"true"`
	}

	Services struct {
		Users         *user.Service
		Catalog       *catalog.Service
		Orders        *order.Service
		ClubCourses   *clubcourse.Service
		Counseling    *counseling.Service
		FlipCourses   *flipcourse.Service
		Notifications *notification.Service
		Comments      *comment.Service
		Reminders     *reminder.Service
	}

	cacheOut struct {
		dig.Out
		Cache  core.Cache
		Locker core.Locker
	}
)

func (c *Closers) add(fn func() error) { c.fns = append(c.fns, fn) }

// Close runs the cleanups in reverse order.
func (c *Closers) Close() error {
	var errs []string
	for i := len(c.fns) - 1; i >= 0; i-- {
		if err := c.fns[i](); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func newLogger(conf *core.Config, closers *Closers) core.Logger {
	stdLogger := log.New(os.Stdout, "APP : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	closers.add(func() error { logger.Close(); return nil })
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

// newStorage opens the configured database. Postgres is created and migrated when missing.
func newStorage(conf *core.Config, loggerParam DBLoggerParam, closers *Closers) (*Storage, error) {
	if conf.Database.Engine == core.DBEngineInMem {
		loggerParam.Logger.Warn("using the in-memory database: data is lost on exit")
		return &Storage{InMem: inmemdb.NewDB()}, nil
	}

	ctx := context.Background()
	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return nil, err
	}
	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db.DB, "up"); err != nil {
		_ = db.Close()
		return nil, err
	}
	closers.add(db.Close)
	return &Storage{DB: db}, nil
}

func newRepositories(s *Storage) *Repositories {
	if s.DB == nil {
		return &Repositories{
			Users:         inmemdb.NewUserRepository(s.InMem),
			Catalog:       inmemdb.NewCatalogRepository(s.InMem),
			Orders:        inmemdb.NewOrderRepository(s.InMem),
			ClubCourses:   inmemdb.NewClubCourseRepository(s.InMem),
			Counseling:    inmemdb.NewCounselingRepository(s.InMem),
			FlipCourses:   inmemdb.NewFlipCourseRepository(s.InMem),
			Notifications: inmemdb.NewNotificationRepository(s.InMem),
			Comments:      inmemdb.NewCommentRepository(s.InMem),
		}
	}
	return &Repositories{
		Users:         sqlxrepos.NewUserRepository(s.DB),
		Catalog:       sqlxrepos.NewCatalogRepository(s.DB),
		Orders:        sqlxrepos.NewOrderRepository(s.DB),
		ClubCourses:   sqlxrepos.NewClubCourseRepository(s.DB),
		Counseling:    sqlxrepos.NewCounselingRepository(s.DB),
		FlipCourses:   sqlxrepos.NewFlipCourseRepository(s.DB),
		Notifications: sqlxrepos.NewNotificationRepository(s.DB),
		Comments:      sqlxrepos.NewCommentRepository(s.DB),
	}
}

// newCache uses redis when an address is configured, memory otherwise.
func newCache(conf *core.Config, logger core.Logger, closers *Closers) (cacheOut, error) {
	if conf.Redis.Address == "" {
		mem := cachesvc.NewMemoryCache()
		return cacheOut{Cache: mem, Locker: mem}, nil
	}
	rdb, err := cachesvc.NewRedisClient(conf)
	if err != nil {
		return cacheOut{}, err
	}
	closers.add(rdb.Close)
	rc := cachesvc.NewRedisCache(rdb, conf, logger)
	return cacheOut{Cache: rc, Locker: rc}, nil
}

// newEventPublisher publishes to kafka when brokers are configured and logs the events otherwise.
func newEventPublisher(conf *core.Config, logger core.Logger, closers *Closers) (core.EventPublisher, error) {
	if len(conf.Kafka.Brokers) == 0 {
		return eventsvc.NewLogPublisher(logger), nil
	}
	producer, err := eventsvc.NewSyncProducer(conf, logger)
	if err != nil {
		return nil, err
	}
	pub := eventsvc.NewKafkaPublisher(producer, conf)
	closers.add(pub.Close)
	return pub, nil
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridApiKey == "" {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newMetrics(conf *core.Config) *metricsvc.Metrics {
	return metricsvc.New(strings.ToLower(conf.AppName))
}

// NewServices builds the domain services on top of the repositories.
func NewServices(p ServiceParams) *Services {
	usrSvc := user.NewService(p.Conf, p.Repos.Users, p.MailSvc)
	notifSvc := notification.NewService(p.Repos.Notifications, usrSvc, p.MailSvc, p.Logger)
	catalogSvc := catalog.NewService(p.Conf, p.Repos.Catalog, p.Cache, p.Events, p.Logger)
	clubSvc := clubcourse.NewService(p.Repos.ClubCourses, catalogSvc, usrSvc, notifSvc, p.Events, p.Logger)
	orderSvc := order.NewService(p.Repos.Orders, catalogSvc, clubSvc, notifSvc, p.Events, p.Logger)
	counselingSvc := counseling.NewService(p.Repos.Counseling, usrSvc, notifSvc, p.Events, p.Logger)
	flipSvc := flipcourse.NewService(p.Repos.FlipCourses, usrSvc, catalogSvc, notifSvc, p.Events, p.Logger)
	commentSvc := comment.NewService(
		p.Repos.Comments,
		comment.NewResolvers(catalogSvc, clubSvc, flipSvc),
		notifSvc,
		p.Logger,
	)

	var recorder reminder.Recorder
	if p.Metrics != nil {
		recorder = p.Metrics
	}
	reminderSvc := reminder.NewService(counselingSvc, clubSvc, flipSvc, orderSvc, notifSvc, recorder, p.Logger)

	return &Services{
		Users:         usrSvc,
		Catalog:       catalogSvc,
		Orders:        orderSvc,
		ClubCourses:   clubSvc,
		Counseling:    counselingSvc,
		FlipCourses:   flipSvc,
		Notifications: notifSvc,
		Comments:      commentSvc,
		Reminders:     reminderSvc,
	}
}

func newServer(
	conf *core.Config,
	logger core.Logger,
	validate *validator.Validate,
	translator ut.Translator,
	storage *Storage,
	metrics *metricsvc.Metrics,
	svcs *Services,
) *echoapi.Server {
	deps := echoapi.Deps{
		Metrics:         metrics,
		UserSvc:         svcs.Users,
		CatalogSvc:      svcs.Catalog,
		OrderSvc:        svcs.Orders,
		ClubCourseSvc:   svcs.ClubCourses,
		CounselingSvc:   svcs.Counseling,
		FlipCourseSvc:   svcs.FlipCourses,
		NotificationSvc: svcs.Notifications,
		CommentSvc:      svcs.Comments,
	}
	if storage.DB != nil {
		deps.DB = storage.DB
	}
	return echoapi.NewServer(conf, logger, validate, translator, deps)
}

// New returns the application container. newConfig defaults to core.NewConfig.
func New(newConfig ...func() *core.Config) *dig.Container {
	c := dig.New()

	confFunc := core.NewConfig
	if len(newConfig) > 0 {
		confFunc = newConfig[0]
	}
	must(c.Provide(confFunc))
	must(c.Provide(func() *Closers { return new(Closers) }))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStorage))
	must(c.Provide(newRepositories))
	must(c.Provide(newCache))
	must(c.Provide(newEventPublisher))
	must(c.Provide(newEmailService))
	must(c.Provide(newMetrics))
	must(c.Provide(func() *validator.Validate { return validator.New() }))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(NewServices))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}

// Fatal prints the root cause of a failed Invoke and exits.
func Fatal(err error) {
	log.Fatal(fmt.Sprintf("%v", dig.RootCause(err)))
}
