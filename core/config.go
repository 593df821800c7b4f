package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	DBEnginePostgres = "postgres"
	DBEngineInMem    = "inmem"
)

var errNoSecretKey = errors.New("SECRET_KEY must be set outside debug mode")

type (
	ServerConfig struct {
		Host                      string
		DebugHost                 string
		ReadTimeout               time.Duration
		WriteTimeout              time.Duration
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		PasswordResetTimeoutDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	RedisConfig struct {
		Address  string
		Password string
		DB       int
		CacheTTL time.Duration
	}

	KafkaConfig struct {
		Brokers     []string
		TopicPrefix string
	}

	ReminderConfig struct {
		CounselingWindow time.Duration
		ClubCourseWindow time.Duration
		TaskWindow       time.Duration
		PendingOrderTTL  time.Duration

		// cron specs used by `admin schedule`
		CounselingSpec   string
		ClubCourseSpec   string
		TaskSpec         string
		ExpireOrdersSpec string
	}

	Config struct {
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		AppName          string
		SecretKey        string
		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		SendgridApiKey   string
		RollbarToken     string

		Server    ServerConfig
		Database  DatabaseConfig
		Redis     RedisConfig
		Kafka     KafkaConfig
		Reminders ReminderConfig
	}
)

func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, db.Port)
}

// Validate reports configuration mistakes that would only surface at runtime.
func (conf *Config) Validate() error {
	if conf.SecretKey == "" && !conf.Debug {
		return errNoSecretKey
	}
	switch conf.Database.Engine {
	case DBEnginePostgres, DBEngineInMem:
	default:
		return errors.Errorf("unknown database engine %q", conf.Database.Engine)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)

	v.SetDefault("debug", true)
	v.SetDefault("build", "dev")
	v.SetDefault("app_name", "MClass")
	v.SetDefault("secret_key", "")
	v.SetDefault("frontend_base_url", "http://localhost:3000")
	v.SetDefault("default_from_name", "MClass")
	v.SetDefault("default_from_email", "noreply@localhost")
	v.SetDefault("sendgrid_api_key", "")
	v.SetDefault("rollbar_token", "")

	v.SetDefault("server_host", "0.0.0.0:8000")
	v.SetDefault("server_debug_host", "0.0.0.0:4000")
	v.SetDefault("server_read_timeout", 5*time.Second)
	v.SetDefault("server_write_timeout", 5*time.Second)
	v.SetDefault("server_shutdown_timeout", 5*time.Second)
	v.SetDefault("jwt_expiration_delta", 7*24*time.Hour)
	v.SetDefault("jwt_refresh_expiration_delta", 4*time.Hour)
	v.SetDefault("password_reset_timeout_delta", 3*24*time.Hour)

	v.SetDefault("db_engine", DBEnginePostgres)
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_name", "mclass")
	v.SetDefault("db_user", "mclass")
	v.SetDefault("db_password", "")
	v.SetDefault("db_admin_user", "postgres")
	v.SetDefault("db_admin_password", "")
	v.SetDefault("db_disable_tls", false)

	v.SetDefault("redis_address", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_cache_ttl", 5*time.Minute)

	v.SetDefault("kafka_brokers", "")
	v.SetDefault("kafka_topic_prefix", "mclass.")

	v.SetDefault("reminder_counseling_window", 24*time.Hour)
	v.SetDefault("reminder_club_course_window", 24*time.Hour)
	v.SetDefault("reminder_task_window", 48*time.Hour)
	v.SetDefault("pending_order_ttl", 48*time.Hour)
	v.SetDefault("cron_counseling", "*/15 * * * *")
	v.SetDefault("cron_club_course", "0 * * * *")
	v.SetDefault("cron_task", "0 8 * * *")
	v.SetDefault("cron_expire_orders", "30 * * * *")
}

// NewConfig loads the configuration from the environment.
// ENV selects the environment (DEV by default, TEST, QA, PROD); it is also the env var prefix,
// ie: DEV_DB_HOST. A `config/.env.<env>` dotenv file is loaded first when it exists.
func NewConfig() *Config {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		v.SetDefault("test_mode", true)
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = "config"
	}
	dotEnvPath := filepath.Join(configDir, ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Env:             env,
		Build:           v.GetString("build"),
		Debug:           v.GetBool("debug"),
		TestMode:        v.GetBool("test_mode"),
		AppName:         v.GetString("app_name"),
		SecretKey:       v.GetString("secret_key"),
		FrontendBaseURL: strings.TrimRight(v.GetString("frontend_base_url"), "/"),
		DefaultFromEmail: mail.Address{
			Name:    v.GetString("default_from_name"),
			Address: v.GetString("default_from_email"),
		},
		SendgridApiKey: v.GetString("sendgrid_api_key"),
		RollbarToken:   v.GetString("rollbar_token"),
		Server: ServerConfig{
			Host:                      v.GetString("server_host"),
			DebugHost:                 v.GetString("server_debug_host"),
			ReadTimeout:               v.GetDuration("server_read_timeout"),
			WriteTimeout:              v.GetDuration("server_write_timeout"),
			ShutdownTimeout:           v.GetDuration("server_shutdown_timeout"),
			JWTExpirationDelta:        v.GetDuration("jwt_expiration_delta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwt_refresh_expiration_delta"),
			PasswordResetTimeoutDelta: v.GetDuration("password_reset_timeout_delta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("db_engine"),
			Host:          v.GetString("db_host"),
			Port:          v.GetString("db_port"),
			Name:          v.GetString("db_name"),
			User:          v.GetString("db_user"),
			Password:      v.GetString("db_password"),
			AdminUser:     v.GetString("db_admin_user"),
			AdminPassword: v.GetString("db_admin_password"),
			DisableTLS:    v.GetBool("db_disable_tls"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis_address"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
			CacheTTL: v.GetDuration("redis_cache_ttl"),
		},
		Kafka: KafkaConfig{
			Brokers:     splitList(v.GetString("kafka_brokers")),
			TopicPrefix: v.GetString("kafka_topic_prefix"),
		},
		Reminders: ReminderConfig{
			CounselingWindow: v.GetDuration("reminder_counseling_window"),
			ClubCourseWindow: v.GetDuration("reminder_club_course_window"),
			TaskWindow:       v.GetDuration("reminder_task_window"),
			PendingOrderTTL:  v.GetDuration("pending_order_ttl"),
			CounselingSpec:   v.GetString("cron_counseling"),
			ClubCourseSpec:   v.GetString("cron_club_course"),
			TaskSpec:         v.GetString("cron_task"),
			ExpireOrdersSpec: v.GetString("cron_expire_orders"),
		},
	}
}

// NewTestConfig returns a Config suited for tests: debug off, in-memory storage and fixed secrets.
func NewTestConfig() *Config {
	return &Config{
		Env:              "TEST",
		Build:            "test",
		TestMode:         true,
		AppName:          "MClass",
		SecretKey:        "test-secret-key",
		FrontendBaseURL:  "http://localhost:3000",
		DefaultFromEmail: mail.Address{Name: "MClass", Address: "noreply@localhost"},
		Server: ServerConfig{
			JWTExpirationDelta:        time.Hour,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
			ShutdownTimeout:           time.Second,
		},
		Database: DatabaseConfig{Engine: DBEngineInMem},
		Redis:    RedisConfig{CacheTTL: time.Minute},
		Reminders: ReminderConfig{
			CounselingWindow: 24 * time.Hour,
			ClubCourseWindow: 24 * time.Hour,
			TaskWindow:       48 * time.Hour,
			PendingOrderTTL:  48 * time.Hour,
		},
	}
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
