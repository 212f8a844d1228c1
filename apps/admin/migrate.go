package main

import (
	"github.com/pkg/errors"

	"github.com/trezcool/classledger/storage/database"
)

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errors.New("migrate needs a database connection")
	}
	return database.Migrate(cli.db, args[0], args[1:]...)
}
