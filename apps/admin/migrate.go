package main

import (
	"context"

	"github.com/benhuang0857/mclass/storage/database"
)

var gooseRunFunc = database.Migrate // mockable

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errNoDB
	}
	return gooseRunFunc(context.Background(), cli.db, args[0], args[1:]...)
}
