package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/trezcool/tahadhari/core"
	"github.com/trezcool/tahadhari/core/alert"
)

var (
	isTerminalFunc = term.IsTerminal // mockable

	errHelp = errors.New("help provided")
)

// alertProcessor is what the CLI needs from alert.Service.
type alertProcessor interface {
	ProcessAll(ctx context.Context, opts alert.SweepOptions) (alert.SweepReport, error)
	TriggerProcessing(ctx context.Context, studentID, courseID int) error
}

type commandLine struct {
	conf     *core.Config
	db       *sql.DB
	alertSvc alertProcessor
	out      io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                     - run a goose command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  processall [-course ID]                    - sweep every active enrollment now")
	fmt.Fprintln(cli.out, "  trigger -student ID -course ID             - re-run alert generation for one enrollment")
	fmt.Fprintln(cli.out, "  token -user ID -role ROLE [-email EMAIL]   - mint an API token (student|lecturer|admin)")
}

// isTerminal reports whether output goes to an interactive terminal (human readable output).
func (cli *commandLine) isTerminal() bool {
	f, ok := cli.out.(*os.File)
	return ok && isTerminalFunc(int(f.Fd()))
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	processAllCmd := flag.NewFlagSet("processall", flag.ContinueOnError)
	processAllCourse := processAllCmd.Int("course", 0, "Only sweep the enrollments of this course.")

	triggerCmd := flag.NewFlagSet("trigger", flag.ContinueOnError)
	triggerStudent := triggerCmd.Int("student", 0, "The student's ID.")
	triggerCourse := triggerCmd.Int("course", 0, "The course's ID.")

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenUser := tokenCmd.Int("user", 0, "The user's ID.")
	tokenRole := tokenCmd.String("role", "", "The user's role: student, lecturer or admin.")
	tokenEmail := tokenCmd.String("email", "", "The user's email (optional).")

	for _, fs := range []*flag.FlagSet{processAllCmd, triggerCmd, tokenCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(ctx, args[2:])

	case "processall":
		if err := processAllCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.processAll(ctx, *processAllCourse)

	case "trigger":
		if err := triggerCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *triggerStudent <= 0 || *triggerCourse <= 0 {
			triggerCmd.Usage()
			return errHelp
		}
		return cli.trigger(ctx, *triggerStudent, *triggerCourse)

	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenUser <= 0 || *tokenRole == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(*tokenUser, *tokenRole, *tokenEmail)

	default:
		cli.printUsage()
		return errHelp
	}
}
