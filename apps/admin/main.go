package main

import (
	"context"
	"fmt"
	"os"

	"github.com/trezcool/tahadhari/core"
	"github.com/trezcool/tahadhari/core/alert"
	emailsvc "github.com/trezcool/tahadhari/services/email"
	locksvc "github.com/trezcool/tahadhari/services/lock"
	logsvc "github.com/trezcool/tahadhari/services/logger"
	predictionsvc "github.com/trezcool/tahadhari/services/prediction"
	"github.com/trezcool/tahadhari/storage/database"
	sqlxrepos "github.com/trezcool/tahadhari/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	if err := conf.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()

	zl, err := logsvc.NewZap(conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setting up zap: %v\n", err)
		os.Exit(1)
	}
	logger := logsvc.NewRollbarLogger(zl.Named("admin"), conf)
	logger.Enable(!conf.Debug)

	// set up DB
	db, err := database.Open(ctx, conf)
	if err != nil {
		logger.Fatal("opening database", err)
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	thresholds, err := alert.LoadThresholds(conf.AlertsConfigFile)
	if err != nil {
		logger.Fatal("loading alert thresholds", err)
	}
	svcOpts := []alert.ServiceOption{alert.WithPredictor(predictionsvc.NewClient(conf.Prediction, logger))}
	if conf.Redis.Addr != "" {
		rdb, err := locksvc.NewClient(ctx, conf.Redis)
		if err != nil {
			logger.Fatal("connecting to redis", err)
		}
		defer rdb.Close()
		svcOpts = append(svcOpts, alert.WithLocker(locksvc.NewRedisLocker(rdb, logger, locksvc.WithTTL(conf.Redis.LockTTL))))
	}
	alertSvc := alert.NewService(
		sqlxrepos.NewAlertRepository(db),
		sqlxrepos.NewDirectory(db),
		alert.NewNotifier(mailSvc, logger),
		logger,
		alert.OptionsFromConfig(conf.Alerts, thresholds),
		svcOpts...,
	)

	// start CLI
	cli := commandLine{
		conf:     conf,
		db:       db.DB,
		alertSvc: alertSvc,
		out:      os.Stdout,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	_ = zl.Sync()
	if err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
