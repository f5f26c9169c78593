package main

import (
	"errors"

	"github.com/pressly/goose/v3"

	"github.com/trezcool/calsync/fs"
)

var gooseRunFunc = goose.Run // mockable

var errNoDatabase = errors.New("migrations need the postgres database engine")

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errNoDatabase
	}
	goose.SetBaseFS(appfs.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	arguments := make([]string, 0)
	if len(args) > 1 {
		arguments = append(arguments, args[1:]...)
	}
	return gooseRunFunc(args[0], cli.db, "migrations", arguments...)
}
