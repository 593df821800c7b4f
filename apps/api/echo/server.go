package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/catalog"
	"github.com/benhuang0857/mclass/core/clubcourse"
	"github.com/benhuang0857/mclass/core/comment"
	"github.com/benhuang0857/mclass/core/counseling"
	"github.com/benhuang0857/mclass/core/flipcourse"
	"github.com/benhuang0857/mclass/core/notification"
	"github.com/benhuang0857/mclass/core/order"
	"github.com/benhuang0857/mclass/core/user"
	metricsvc "github.com/benhuang0857/mclass/services/metrics"
)

type (
	// Pinger reports whether a backing store is reachable.
	Pinger interface {
		PingContext(ctx context.Context) error
	}

	Deps struct {
		DB      Pinger // optional
		Metrics *metricsvc.Metrics

		UserSvc         user.ServiceInterface
		CatalogSvc      catalog.ServiceInterface
		OrderSvc        order.ServiceInterface
		ClubCourseSvc   clubcourse.ServiceInterface
		CounselingSvc   counseling.ServiceInterface
		FlipCourseSvc   flipcourse.ServiceInterface
		NotificationSvc notification.ServiceInterface
		CommentSvc      comment.ServiceInterface
	}

	Server struct {
		conf       *core.Config
		logger     core.Logger
		validate   *validator.Validate
		translator ut.Translator
		deps       Deps
		app        *echo.Echo
		errors     chan error
		shutdown   chan os.Signal
	}
)

var _ http.Handler = (*Server)(nil)

func NewServer(
	conf *core.Config,
	logger core.Logger,
	validate *validator.Validate,
	translator ut.Translator,
	deps Deps,
) *Server {
	s := &Server{
		conf:       conf,
		logger:     logger,
		validate:   validate,
		translator: translator,
		deps:       deps,
		app:        echo.New(),
		errors:     make(chan error, 1),
		shutdown:   make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(s.conf.Debug || s.conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	if s.deps.Metrics != nil {
		s.app.Use(s.deps.Metrics.Middleware())
		s.app.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.logger, s.translator, s.signalShutdown)
	s.app.Debug = s.conf.Debug

	s.app.GET("/", s.home)
	s.app.GET("/health", s.health)

	v1 := s.app.Group("/v1")
	authed := []echo.MiddlewareFunc{jwtMiddleware(s.conf), userMiddleware(s.deps.UserSvc)}

	registerUserAPI(v1, authed, &userApi{
		conf:       s.conf,
		svc:        s.deps.UserSvc,
		validate:   s.validate,
		translator: s.translator,
		logger:     s.logger,
	})
	public := []echo.MiddlewareFunc{optionalJWTMiddleware(s.conf), optionalUserMiddleware(s.deps.UserSvc)}
	registerCatalogAPI(v1, public, authed, &catalogApi{svc: s.deps.CatalogSvc, validate: s.validate})
	registerOrderAPI(v1, authed, &orderApi{svc: s.deps.OrderSvc, validate: s.validate})
	registerClubCourseAPI(v1, authed, &clubCourseApi{svc: s.deps.ClubCourseSvc, validate: s.validate})
	registerCounselingAPI(v1, authed, &counselingApi{svc: s.deps.CounselingSvc, validate: s.validate})
	registerFlipCourseAPI(v1, authed, &flipCourseApi{svc: s.deps.FlipCourseSvc, validate: s.validate})
	registerNotificationAPI(v1, authed, &notificationApi{svc: s.deps.NotificationSvc})
	registerCommentAPI(v1, authed, &commentApi{svc: s.deps.CommentSvc, validate: s.validate})
}

// Start listens on the configured host; failures are reported through Errors.
func (s *Server) Start() {
	srv := &http.Server{
		Addr:         s.conf.Server.Host,
		ReadTimeout:  s.conf.Server.ReadTimeout,
		WriteTimeout: s.conf.Server.WriteTimeout,
	}
	s.logger.Info("API listening on " + srv.Addr)
	if err := s.app.StartServer(srv); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

// signalShutdown asks the main loop to stop, e.g. after an integrity error.
func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	signal.Stop(s.shutdown)
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.conf.AppName+" API!")
}

func (s *Server) health(ctx echo.Context) error {
	status := map[string]string{"status": "ok", "build": s.conf.Build}
	if s.deps.DB != nil {
		if err := s.deps.DB.PingContext(ctx.Request().Context()); err != nil {
			s.logger.Warn("health check: database unreachable", err)
			status["status"] = "db unreachable"
			return ctx.JSON(http.StatusServiceUnavailable, status)
		}
	}
	return ctx.JSON(http.StatusOK, status)
}
