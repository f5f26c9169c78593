package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/trezcool/calsync/core"
	"github.com/trezcool/calsync/core/calendar"
	"github.com/trezcool/calsync/services/calendly"
	logsvc "github.com/trezcool/calsync/services/logger"
	"github.com/trezcool/calsync/storage/database"
	inmemdb "github.com/trezcool/calsync/storage/database/inmem"
	sqlxrepos "github.com/trezcool/calsync/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.New("ADMIN", conf)

	cli := &commandLine{
		conf:   conf,
		logger: logger,
		out:    os.Stdout,
		provider: func(token string) calendar.Provider {
			return calendly.NewClient(calendly.Options{
				BaseURL:  conf.Calendar.APIBaseURL,
				Token:    token,
				Timeout:  conf.Calendar.RequestTimeout,
				Retries:  conf.Calendar.RequestRetries,
				PageSize: conf.Calendar.PageSize,
			}, logger)
		},
	}

	// set up DB
	if conf.Database.InMemory() {
		db, err := inmemdb.Open()
		errAndDie(logger, err)
		cli.students = inmemdb.NewStudentRepository(db)
		cli.consultations = inmemdb.NewConsultationRepository(db)
		cli.auditor = inmemdb.NewAuditRepository(db)
		cli.secrets = inmemdb.NewSettingsRepository(db)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		db, err := database.Open(ctx, conf)
		cancel()
		errAndDie(logger, err)
		defer db.Close()

		cli.db = db.DB
		cli.students = sqlxrepos.NewStudentRepository(db)
		cli.consultations = sqlxrepos.NewConsultationRepository(db)
		cli.auditor = sqlxrepos.NewAuditRepository(db)
		cli.secrets = sqlxrepos.NewSettingsRepository(db)
	}

	// start CLI
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(logger core.Logger, err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}

