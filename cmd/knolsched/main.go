package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	_ "time/tzdata" // IANA zones for hosts without a zoneinfo database

	"github.com/spf13/pflag"

	"github.com/conorfennell/knolsched/internal/config"
	"github.com/conorfennell/knolsched/internal/deck"
	"github.com/conorfennell/knolsched/internal/importer"
	"github.com/conorfennell/knolsched/internal/ledger"
	"github.com/conorfennell/knolsched/internal/memo"
	"github.com/conorfennell/knolsched/internal/srs"
	"github.com/conorfennell/knolsched/internal/storage"
	"github.com/conorfennell/knolsched/internal/study"
)

type command struct {
	usage string
	flags func(fs *pflag.FlagSet)
	run   func(a *app, fs *pflag.FlagSet, out io.Writer) error
}

var commands = map[string]command{
	"add":     addCommand,
	"import":  importCommand,
	"review":  reviewCommand,
	"free":    freeCommand,
	"preview": previewCommand,
	"session": sessionCommand,
	"stats":   statsCommand,
	"list":    listCommand,
	"remove":  removeCommand,
	"serve":   serveCommand,
}

// app holds everything a command needs, built from the loaded config.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *storage.DB
	engine   *srs.Engine
	planner  *deck.Planner
	study    *study.Service
	importer *importer.Importer
}

func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	engine, err := srs.NewEngine(cfg.Policy)
	if err != nil {
		return nil, err
	}
	planner, err := deck.NewPlanner(cfg.Policy)
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	logger.Debug("database opened", "path", cfg.DB)

	svc := study.NewService(engine, ledger.New(cfg.Policy.LedgerMaxSize), planner, db,
		study.WithCache(memo.New(cfg.Policy.CacheMaxSize)),
		study.WithLogger(logger),
	)
	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		engine:   engine,
		planner:  planner,
		study:    svc,
		importer: importer.New(db, cfg.Policy.DefaultFactor, logger),
	}, nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "knolsched: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stderr)
		if len(args) == 0 {
			return errUsage
		}
		return nil
	}

	name := args[0]
	cmd, ok := commands[name]
	if !ok {
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", name)
	}

	fs := pflag.NewFlagSet("knolsched "+name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	config.RegisterFlags(fs)
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.db.Close()

	return cmd.run(a, fs, stdout)
}

func printUsage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Usage: knolsched <command> [flags]\n\nCommands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %-8s %s\n", name, commands[name].usage)
	}
	b.WriteString("\nRun 'knolsched <command> --help' for the flags of a command.\n")
	fmt.Fprint(w, b.String())
}
