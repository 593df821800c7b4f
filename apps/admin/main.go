package main

import (
	"database/sql"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/benhuang0857/mclass/apps/di"
	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/user"
)

func main() {
	os.Exit(start())
}

func start() int {
	c := di.New()

	code := 0
	err := c.Invoke(func(
		conf *core.Config,
		logger core.Logger,
		storage *di.Storage,
		svcs *di.Services,
		locker core.Locker,
		validate *validator.Validate,
		translator ut.Translator,
		closers *di.Closers,
	) {
		defer func() {
			if err := closers.Close(); err != nil {
				logger.Error("closing resources: "+err.Error(), err)
			}
		}()

		core.InitValidators(validate, translator)
		user.InitValidators(validate, translator)
		core.ParseEmailTemplates(conf, logger)

		var db *sql.DB
		if storage.DB != nil {
			db = storage.DB.DB
		}
		cli := commandLine{
			conf:     conf,
			logger:   logger,
			db:       db,
			svcs:     svcs,
			locker:   locker,
			validate: validate,
			out:      os.Stdout,
		}
		if err := cli.run(os.Args); err != nil {
			if err != errHelp {
				logger.Error("admin: "+err.Error(), err)
			}
			code = 1
		}
	})
	if err != nil {
		di.Fatal(err)
	}
	return code
}
