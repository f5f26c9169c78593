package main

import (
	"context"
	"fmt"
	"time"

	"github.com/trezcool/calsync/core/calendar"
)

func (cli *commandLine) sync(token string, from, to time.Time) error {
	p := cli.provider(token)
	reconciler := calendar.NewReconciler(p.Name(), cli.consultations, cli.students, cli.auditor, cli.logger)
	syncer := calendar.NewSyncer(p, reconciler, cli.logger, calendar.SyncOptions{
		LookBehind:             cli.conf.Calendar.SyncLookBehind,
		LookAhead:              cli.conf.Calendar.SyncLookAhead,
		MaxErrors:              cli.conf.Calendar.MaxSyncErrors,
		ReconcileCancellations: cli.conf.Calendar.ReconcileCancellations,
	})
	if from.IsZero() {
		from, to = syncer.DefaultWindow()
	}

	res, err := syncer.SyncWindow(context.Background(), from, to)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "synced %d consultation(s), cancelled %d, %d error(s) between %s and %s\n",
		res.SyncedCount, res.CancelledCount, res.ErrorCount, res.From.Format(time.RFC3339), res.To.Format(time.RFC3339))
	for _, msg := range res.Errors {
		fmt.Fprintf(cli.out, "  - %s\n", msg)
	}
	return nil
}

func (cli *commandLine) subscribe(token, callbackURL string) error {
	p := cli.provider(token)
	sub, err := calendar.NewSubscriptions(p, cli.secrets, cli.auditor, cli.logger).Subscribe(context.Background(), callbackURL)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "subscribed %s to %v (%s); signing key stored\n", sub.CallbackURL, sub.Events, sub.URI)
	return nil
}
