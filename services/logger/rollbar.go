package logsvc

import (
	"log"
	"sync"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/user"
)

const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
)

var initOnce sync.Once

// RollbarLogger prints to a std logger and reports to rollbar.
// Rollbar is only enabled with a token outside debug mode.
type RollbarLogger struct {
	std      *log.Logger
	minLevel int
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	initOnce.Do(func() {
		rollbar.SetToken(conf.RollbarToken)
		rollbar.SetEnvironment(conf.Env)
		rollbar.SetServerHost(conf.Server.Host)
		rollbar.SetCodeVersion(conf.Build)
		rollbar.SetStackTracer(errors.StackTracer)
		rollbar.SetEnabled(conf.RollbarToken != "" && !conf.Debug && !conf.TestMode)
	})
	lvl := LevelInfo
	if conf.Debug {
		lvl = LevelDebug
	}
	return &RollbarLogger{std: std, minLevel: lvl}
}

// Close waits for queued rollbar items to be sent.
func (l *RollbarLogger) Close() {
	rollbar.Wait()
}

// prepare extracts the logged in user from args and sets it as the rollbar person.
// Expected args: error, map[string]interface{}, user.User.
func (l *RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	var usrSet bool
	newArgs := make([]interface{}, 0, len(args)+1)
	newArgs = append(newArgs, msg)
	for _, arg := range args {
		if usr, ok := arg.(user.User); ok {
			if !usrSet {
				rollbar.SetPerson(usr.ID, usr.Username, usr.Email)
				usrSet = true
			}
			continue
		}
		newArgs = append(newArgs, arg)
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return newArgs
}

func (l *RollbarLogger) print(level int, tag, msg string, args []interface{}) {
	if level < l.minLevel {
		return
	}
	l.std.Printf("%s %s", tag, msg)
	for _, arg := range args {
		switch a := arg.(type) {
		case user.User:
		case error:
			// stack traces only for errors
			if level >= LevelError {
				l.std.Printf("%+v", a)
			}
		default:
			l.std.Printf("%+v", a)
		}
	}
}

func (l *RollbarLogger) Debug(msg string, args ...interface{}) {
	l.print(LevelDebug, "[DEBUG]", msg, args)
}

func (l *RollbarLogger) Info(msg string, args ...interface{}) {
	l.print(LevelInfo, "[INFO]", msg, args)
}

func (l *RollbarLogger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(l.prepare(msg, args)...)
	l.print(LevelWarn, "[WARN]", msg, args)
}

func (l *RollbarLogger) Error(msg string, args ...interface{}) {
	rollbar.Error(l.prepare(msg, args)...)
	l.print(LevelError, "[ERROR]", msg, args)
}

func (l *RollbarLogger) Fatal(msg string, args ...interface{}) {
	rollbar.Critical(l.prepare(msg, args)...)
	rollbar.Wait()
	l.print(LevelError, "[FATAL]", msg, args)
	l.std.Fatal(msg)
}
