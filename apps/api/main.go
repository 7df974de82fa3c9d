package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	echoapi "github.com/trezcool/tahadhari/apps/api/echo"
	"github.com/trezcool/tahadhari/core"
	"github.com/trezcool/tahadhari/core/alert"
	"github.com/trezcool/tahadhari/scheduler"
	emailsvc "github.com/trezcool/tahadhari/services/email"
	locksvc "github.com/trezcool/tahadhari/services/lock"
	logsvc "github.com/trezcool/tahadhari/services/logger"
	metricsvc "github.com/trezcool/tahadhari/services/metrics"
	predictionsvc "github.com/trezcool/tahadhari/services/prediction"
	queuesvc "github.com/trezcool/tahadhari/services/queue"
	"github.com/trezcool/tahadhari/storage/database"
	sqlxrepos "github.com/trezcool/tahadhari/storage/database/sqlx"
)

const memoryQueueSize = 1024

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()
	if err := conf.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()

	// set up loggers
	zl, err := logsvc.NewZap(conf)
	if err != nil {
		log.Fatalf("setting up zap: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	logger := logsvc.NewRollbarLogger(zl.Named("api"), conf)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger(zl.Named("db"), conf)
	dbLogger.Enable(!conf.Debug)

	// set up DB
	db, err := setUpDB(ctx, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			dbLogger.Fatal("Failed to close", err)
		}
	}()

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	thresholds, err := alert.LoadThresholds(conf.AlertsConfigFile)
	if err != nil {
		logger.Fatal(fmt.Sprintf("loading alert thresholds: %v", err), err)
	}

	metrics := metricsvc.New(true)
	svcOpts := []alert.ServiceOption{
		alert.WithRecorder(metrics),
		alert.WithPredictor(predictionsvc.NewClient(conf.Prediction, logger)),
	}

	if conf.Redis.Addr != "" {
		rdb, err := locksvc.NewClient(ctx, conf.Redis)
		if err != nil {
			logger.Fatal(fmt.Sprintf("connecting to redis: %v", err), err)
		}
		defer func() { _ = rdb.Close() }()
		svcOpts = append(svcOpts, alert.WithLocker(locksvc.NewRedisLocker(rdb, logger, locksvc.WithTTL(conf.Redis.LockTTL))))
	}

	queue, closeQueue, err := setUpQueue(conf, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up task queue: %v", err), err)
	}
	defer closeQueue()
	svcOpts = append(svcOpts, alert.WithQueue(queue))

	alertSvc := alert.NewService(
		sqlxrepos.NewAlertRepository(db),
		sqlxrepos.NewDirectory(db),
		alert.NewNotifier(mailSvc, logger),
		logger,
		alert.OptionsFromConfig(conf.Alerts, thresholds),
		svcOpts...,
	)

	sched, err := scheduler.New(conf.Scheduler, alertSvc, logger, metrics)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up scheduler: %v", err), err)
	}

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)

	if err = queue.Start(alertSvc.HandleTask); err != nil {
		logger.Fatal(fmt.Sprintf("starting task queue: %v", err), err)
	}
	if conf.Scheduler.Enabled {
		if err = sched.Start(); err != nil {
			logger.Fatal(fmt.Sprintf("starting scheduler: %v", err), err)
		}
	}

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.
	// /metrics - Prometheus scrape endpoint.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	http.Handle("/metrics", metrics.Handler())

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			AlertSvc:   alertSvc,
			Scheduler:  sched,
			Validate:   validate,
			Translator: translator,
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

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}

		// in-flight sweeps are cancelled; queued tasks get what is left of the deadline
		if err = sched.Stop(); err != nil && err != scheduler.ErrNotRunning {
			logger.Error("stopping scheduler", err)
		}
		if err = queue.Stop(ctx); err != nil {
			logger.Error("stopping task queue", err)
		}
	}
}

func setUpDB(ctx context.Context, conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return nil, err
	}

	db, err := database.Open(ctx, conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(ctx, db.DB, "up"); err != nil {
		return nil, err
	}
	return db, nil
}

// setUpQueue picks JetStream when a NATS URL is configured, the in-process queue otherwise.
func setUpQueue(conf *core.Config, logger core.Logger) (queuesvc.Queue, func(), error) {
	if conf.NATS.URL == "" {
		return queuesvc.NewMemory(memoryQueueSize, conf.NATS.Workers, conf.Alerts.TaskTimeout, logger), func() {}, nil
	}

	nc, err := queuesvc.Connect(conf.NATS.URL, logger)
	if err != nil {
		return nil, nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, errors.Wrap(err, "getting jetstream context")
	}
	q, err := queuesvc.NewNATS(js, conf.NATS, conf.Alerts.TaskTimeout, logger)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return q, func() { _ = nc.Drain() }, nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
