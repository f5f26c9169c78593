package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/pkg/errors"

	echoapi "github.com/trezcool/calsync/apps/api/echo"
	"github.com/trezcool/calsync/core"
	"github.com/trezcool/calsync/core/calendar"
	"github.com/trezcool/calsync/core/consultation"
	"github.com/trezcool/calsync/core/student"
	auditsvc "github.com/trezcool/calsync/services/audit"
	"github.com/trezcool/calsync/services/calendly"
	logsvc "github.com/trezcool/calsync/services/logger"
	metricsvc "github.com/trezcool/calsync/services/metrics"
	"github.com/trezcool/calsync/storage/database"
	inmemdb "github.com/trezcool/calsync/storage/database/inmem"
	sqlxrepos "github.com/trezcool/calsync/storage/database/sqlx"
)

const dbSetupTimeout = 30 * time.Second

type stores struct {
	students      student.Repository
	consultations consultation.Repository
	audit         calendar.Auditor
	settings      calendar.SecretStore
	close         func() error
}

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.New("API", conf)
	syncLogger := logsvc.New("SYNC", conf)
	dbLogger := logsvc.New("DB", conf)

	// set up DB
	st, err := setUpStores(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = st.close(); err != nil {
			dbLogger.Fatal("Failed to close", err)
		}
	}()

	// set up services
	metrics := metricsvc.New()
	auditor := metrics.Auditor(auditsvc.Multi{st.audit, auditsvc.NewLogAuditor(syncLogger)})

	client := calendly.NewClient(calendly.Options{
		BaseURL:  conf.Calendar.APIBaseURL,
		Token:    conf.Calendar.APIToken,
		Timeout:  conf.Calendar.RequestTimeout,
		Retries:  conf.Calendar.RequestRetries,
		PageSize: conf.Calendar.PageSize,
	}, syncLogger)
	decoder, err := calendly.NewWebhookDecoder(conf.Calendar.SignatureTolerance)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up webhook decoder: %v", err), err)
	}

	translator := core.NewTranslator()
	validate := core.NewValidator(translator)

	reconciler := calendar.NewReconciler(client.Name(), st.consultations, st.students, auditor, syncLogger)
	receiver := calendar.NewReceiver(reconciler, st.settings, auditor, logger)
	receiver.Register(decoder, conf.Calendar.WebhookSigningKey)
	syncer := calendar.NewSyncer(client, reconciler, syncLogger, calendar.SyncOptions{
		LookBehind:             conf.Calendar.SyncLookBehind,
		LookAhead:              conf.Calendar.SyncLookAhead,
		MaxErrors:              conf.Calendar.MaxSyncErrors,
		ReconcileCancellations: conf.Calendar.ReconcileCancellations,
		Observe:                metrics.ObserveSync,
	})
	subscriptions := calendar.NewSubscriptions(client, st.settings, auditor, logger)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	checkCalendarConfig(conf, receiver, client.Name(), logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Sync Scheduler

	schedCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	if conf.Calendar.SyncInterval > 0 {
		go syncer.Run(schedCtx, conf.Calendar.SyncInterval)
		syncLogger.Info(fmt.Sprintf("sync scheduler started : every %s", conf.Calendar.SyncInterval))
	}

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:          conf,
			Logger:        logger,
			Receiver:      receiver,
			Syncer:        syncer,
			Subscriptions: subscriptions,
			Metrics:       metrics,
			Validate:      validate,
			Translator:    translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
		stopScheduler()

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shut down and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpStores(conf *core.Config) (*stores, error) {
	if conf.Database.InMemory() {
		db, err := inmemdb.Open()
		if err != nil {
			return nil, err
		}
		return &stores{
			students:      inmemdb.NewStudentRepository(db),
			consultations: inmemdb.NewConsultationRepository(db),
			audit:         inmemdb.NewAuditRepository(db),
			settings:      inmemdb.NewSettingsRepository(db),
			close:         func() error { return nil },
		}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbSetupTimeout)
	defer cancel()

	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return nil, errors.Wrap(err, "creating database")
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err = database.Migrate(db); err != nil {
		return nil, errors.Wrap(err, "migrating database")
	}
	return &stores{
		students:      sqlxrepos.NewStudentRepository(db),
		consultations: sqlxrepos.NewConsultationRepository(db),
		audit:         sqlxrepos.NewAuditRepository(db),
		settings:      sqlxrepos.NewSettingsRepository(db),
		close:         db.Close,
	}, nil
}

// checkCalendarConfig warns about settings that would make every webhook or sync fail.
func checkCalendarConfig(conf *core.Config, receiver *calendar.Receiver, provider string, logger core.Logger) {
	if conf.Calendar.APIToken == "" {
		logger.Warn("calendar: API token is not set, polling and subscription management will fail")
	}
	if _, err := receiver.SigningKey(context.Background(), provider); err != nil {
		logger.Warn("calendar: " + err.Error() + ", webhooks will be rejected until a subscription is created")
	}
	if conf.Calendar.Provider != provider {
		logger.Warn(fmt.Sprintf("calendar: provider %q is not supported, using %q", conf.Calendar.Provider, provider))
	}
}
