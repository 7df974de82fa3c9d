package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tahadhari/core/alert"
)

func (cli *commandLine) processAll(ctx context.Context, courseID int) error {
	opts := alert.SweepOptions{
		Concurrency:       cli.conf.Scheduler.Concurrency,
		EnrollmentTimeout: cli.conf.Scheduler.EnrollmentTimeout,
	}
	if courseID > 0 {
		opts.CourseID = null.IntFrom(courseID)
	}

	report, err := cli.alertSvc.ProcessAll(ctx, opts)
	if err != nil {
		return err
	}

	if cli.isTerminal() {
		fmt.Fprintf(cli.out, "swept %d enrollments in %s: %d succeeded, %d failed (%d timed out)\n",
			report.Enrollments, report.Duration, report.Succeeded, report.Failed, report.TimedOut)
		return nil
	}
	return errors.Wrap(json.NewEncoder(cli.out).Encode(report), "encoding report")
}

func (cli *commandLine) trigger(ctx context.Context, studentID, courseID int) error {
	if err := cli.alertSvc.TriggerProcessing(ctx, studentID, courseID); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "processed student %d in course %d\n", studentID, courseID)
	return nil
}
