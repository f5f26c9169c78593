package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/trezcool/calsync/core"
	"github.com/trezcool/calsync/core/calendar"
	"github.com/trezcool/calsync/core/consultation"
	"github.com/trezcool/calsync/core/student"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf   *core.Config
	logger core.Logger
	out    io.Writer
	db     *sql.DB // nil with the in-memory engine

	// provider returns a provider API client authenticated with token.
	provider      func(token string) calendar.Provider
	students      student.Repository
	consultations consultation.Repository
	auditor       calendar.Auditor
	secrets       calendar.SecretStore
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]               - run database migrations (goose commands: up, down, status ...)")
	fmt.Fprintln(cli.out, "  sync [-from RFC3339 -to RFC3339]     - pull the calendar window into the CRM (defaults to the configured window)")
	fmt.Fprintln(cli.out, "  subscribe -url CALLBACK_URL          - (re)create the provider webhook subscription and store its signing key")
	fmt.Fprintln(cli.out, "  token -subject ID [-email EMAIL]     - print an operator API token")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	syncCmd := flag.NewFlagSet("sync", flag.ContinueOnError)
	syncFrom := syncCmd.String("from", "", "Window start (RFC3339).")
	syncTo := syncCmd.String("to", "", "Window end (RFC3339).")

	subscribeCmd := flag.NewFlagSet("subscribe", flag.ContinueOnError)
	subscribeURL := subscribeCmd.String("url", "", "The public URL of POST /calendar/webhook/{provider}.")

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenSubject := tokenCmd.String("subject", "", "The operator ID.")
	tokenEmail := tokenCmd.String("email", "", "The operator email.")

	for _, fs := range []*flag.FlagSet{syncCmd, subscribeCmd, tokenCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "sync":
		if err := syncCmd.Parse(args[2:]); err != nil {
			return err
		}
		if (*syncFrom == "") != (*syncTo == "") {
			syncCmd.Usage()
			return errHelp
		}
		var from, to time.Time
		if *syncFrom != "" {
			var err error
			if from, err = time.Parse(time.RFC3339, *syncFrom); err != nil {
				return fmt.Errorf("invalid -from: %v", err)
			}
			if to, err = time.Parse(time.RFC3339, *syncTo); err != nil {
				return fmt.Errorf("invalid -to: %v", err)
			}
		}
		token, err := cli.apiToken()
		if err != nil {
			return err
		}
		return cli.sync(token, from, to)
	case "subscribe":
		if err := subscribeCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *subscribeURL == "" {
			subscribeCmd.Usage()
			return errHelp
		}
		token, err := cli.apiToken()
		if err != nil {
			return err
		}
		return cli.subscribe(token, *subscribeURL)
	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenSubject == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(*tokenSubject, *tokenEmail)
	default:
		cli.printUsage()
		return errHelp
	}
}

// apiToken returns the configured provider API token, prompting for it when unset.
func (cli *commandLine) apiToken() (string, error) {
	if cli.conf.Calendar.APIToken != "" {
		return cli.conf.Calendar.APIToken, nil
	}
	fmt.Fprint(cli.out, "Enter calendar API token:")
	tok, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	if len(tok) == 0 {
		return "", errHelp
	}
	return string(tok), nil
}
