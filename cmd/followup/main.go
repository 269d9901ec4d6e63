// Command followup is a terminal shared inbox that flags important mail
// and reminds the team when it goes unanswered.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/nhle/inbox-followup/internal/app"
	"github.com/nhle/inbox-followup/internal/credential"
	"github.com/nhle/inbox-followup/internal/inbox"
	"github.com/nhle/inbox-followup/internal/logging"
	"github.com/nhle/inbox-followup/internal/metrics"
	"github.com/nhle/inbox-followup/internal/model"
	"github.com/nhle/inbox-followup/internal/scorer"
	"github.com/nhle/inbox-followup/internal/source/email"
	"github.com/nhle/inbox-followup/internal/store"
	appsync "github.com/nhle/inbox-followup/internal/sync"
	"github.com/nhle/inbox-followup/internal/theme"
	"github.com/nhle/inbox-followup/internal/tracker"
	"github.com/nhle/inbox-followup/internal/ui/settings"
)

const usage = `Usage: followup [flags] [command]

Commands:
  (none)           Open the shared inbox
  set-password     Store the IMAP password in the system keyring
  clear-password   Remove the IMAP password from the system keyring

Flags:
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("followup", flag.ContinueOnError)
	configPath := fs.StringP("config", "c", model.DefaultConfigPath(), "path to YAML configuration file")
	delaySec := fs.Int("delay", 0, "follow-up delay in seconds for this session (0 keeps the configured value)")
	rearm := fs.Bool("rearm", false, "re-arm deadlines for pending important mail on start")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	switch fs.Arg(0) {
	case "":
	case "set-password":
		return setPassword(os.Stdin, os.Stdout)
	case "clear-password":
		if err := credential.Delete(credential.IMAPPasswordKey); err != nil {
			fmt.Fprintf(os.Stderr, "followup: %v\n", err)
			return 1
		}
		fmt.Println("IMAP password removed.")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "followup: unknown command %q\n", fs.Arg(0))
		fs.Usage()
		return 2
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "followup: %v\n", err)
		return 1
	}
	if *delaySec > 0 {
		cfg.FollowUp.DelaySec = *delaySec
	}
	if *rearm {
		cfg.FollowUp.RearmOnStart = true
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "followup: %v\n", err)
		return 1
	}
	defer logger.Sync()

	if err := runInbox(cfg, *configPath, logger); err != nil {
		logger.Error("inbox exited with error", zap.Error(err))
		fmt.Fprintf(os.Stderr, "followup: %v\n", err)
		return 1
	}
	return 0
}

// runInbox wires the services together and runs the terminal UI until
// the user quits or the process is signalled.
func runInbox(cfg *model.AppConfig, configPath string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := theme.Apply(cfg.Display.Theme); err != nil {
		return fmt.Errorf("display.theme: %w", err)
	}

	logger.Info("starting inbox",
		zap.String("db", cfg.Storage.Path),
		zap.Int("delay_sec", cfg.FollowUp.DelaySec),
		zap.Bool("demo_mode", cfg.FollowUp.DemoMode),
		zap.Bool("imap", cfg.IMAP.Enabled),
	)

	st, err := store.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	var scorerOpts []scorer.Option
	if cfg.Scorer.LatencyMS > 0 {
		scorerOpts = append(scorerOpts, scorer.WithLatency(time.Duration(cfg.Scorer.LatencyMS)*time.Millisecond))
	}
	sc := scorer.New(scorerOpts...)

	tr := tracker.New(st, tracker.WithLogger(logger.Named("tracker")))
	defer tr.Stop()

	svc := inbox.NewService(st, sc, tr, cfg.FollowUp, logger.Named("inbox"))

	if cfg.FollowUp.RearmOnStart {
		if _, err := svc.Rearm(ctx); err != nil {
			return err
		}
	}

	metrics.Serve(ctx, cfg.Metrics.Listen, logger.Named("metrics"))

	opts := app.Options{
		Store:      st,
		Inbox:      svc,
		Tracker:    tr,
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     logger,
	}

	if cfg.IMAP.Enabled {
		client, err := imapClient(cfg.IMAP)
		if err != nil {
			return err
		}
		svc.UseMailbox(client)
		opts.Poller = appsync.New(
			client, svc,
			time.Duration(cfg.IMAP.PollIntervalSec)*time.Second,
			logger.Named("poller"),
		)
		opts.Validator = settings.Validator(client)
	}

	p := tea.NewProgram(app.New(opts), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running ui: %w", err)
	}
	if opts.Poller != nil {
		opts.Poller.Stop()
	}
	logger.Info("inbox stopped", zap.Int("armed_deadlines_dropped", tr.Pending()))
	return nil
}

// imapClient builds the mail server client from cfg and the stored
// password.
func imapClient(cfg model.IMAPConfig) (*email.IMAPClient, error) {
	if cfg.Host == "" || cfg.Username == "" {
		return nil, errors.New("imap is enabled but imap.host or imap.username is empty")
	}
	password, err := credential.IMAPPassword()
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, fmt.Errorf("no IMAP password found; run `followup set-password` or set %s", credential.IMAPPasswordEnv)
		}
		return nil, err
	}
	return email.NewIMAPClient(cfg, password), nil
}

// setPassword reads the IMAP password from in, without echo when in is
// a terminal, and stores it in the keyring.
func setPassword(in *os.File, out io.Writer) int {
	fmt.Fprint(out, "IMAP password: ")

	var password string
	if term.IsTerminal(int(in.Fd())) {
		b, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			fmt.Fprintf(os.Stderr, "followup: reading password: %v\n", err)
			return 1
		}
		password = string(b)
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			fmt.Fprintf(os.Stderr, "followup: reading password: %v\n", err)
			return 1
		}
		password = strings.TrimRight(line, "\r\n")
	}

	if password == "" {
		fmt.Fprintln(os.Stderr, "followup: empty password, nothing stored")
		return 1
	}
	if err := credential.Set(credential.IMAPPasswordKey, password); err != nil {
		fmt.Fprintf(os.Stderr, "followup: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, "IMAP password stored in the system keyring.")
	return 0
}
