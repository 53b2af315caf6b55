package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/conorfennell/knolsched/internal/deck"
	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/knol"
	"github.com/conorfennell/knolsched/internal/srs"
	"github.com/conorfennell/knolsched/internal/storage"
	"github.com/conorfennell/knolsched/internal/study"
	"github.com/conorfennell/knolsched/internal/web"
)

var addCommand = command{
	usage: "Add a card",
	flags: func(fs *pflag.FlagSet) {
		fs.StringP("question", "q", "", "Question text")
		fs.StringP("answer", "a", "", "Answer text")
		fs.StringP("context", "c", "", "Optional context")
	},
	run: func(a *app, fs *pflag.FlagSet, out io.Writer) error {
		question, _ := fs.GetString("question")
		answer, _ := fs.GetString("answer")
		ctxText, _ := fs.GetString("context")
		if strings.TrimSpace(question) == "" || strings.TrimSpace(answer) == "" {
			return errors.New("add: --question and --answer are required")
		}

		id := knol.ID(question, answer, ctxText)
		card := domain.NewCard(id, question, answer, ctxText, a.cfg.Policy.DefaultFactor)
		if err := a.db.InsertCard(card); err != nil {
			if errors.Is(err, storage.ErrCardExists) {
				fmt.Fprintf(out, "card %s already exists\n", id)
				return nil
			}
			return err
		}
		fmt.Fprintf(out, "added %s\n", id)
		return nil
	},
}

var importCommand = command{
	usage: "Import cards from deck files or directories",
	run: func(a *app, fs *pflag.FlagSet, out io.Writer) error {
		if fs.NArg() == 0 {
			return errors.New("import: give at least one file or directory")
		}
		var failed int
		for _, path := range fs.Args() {
			report, err := a.importer.ImportPath(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %d files, %d cards, %d added, %d existing\n",
				path, report.Files, report.Parsed, report.Added, report.Existing)
			for _, e := range report.Errors {
				fmt.Fprintf(out, "  error: %v\n", e)
			}
			failed += len(report.Errors)
		}
		if failed > 0 {
			return fmt.Errorf("import: %d errors", failed)
		}
		return nil
	},
}

func responseFlags(fs *pflag.FlagSet) {
	fs.String("card", "", "Card id")
	fs.String("quality", "", "Response quality: confident, hesitant or incorrect")
}

func readResponse(fs *pflag.FlagSet) (string, srs.Quality, error) {
	cardID, _ := fs.GetString("card")
	if cardID == "" {
		return "", 0, errors.New("--card is required")
	}
	name, _ := fs.GetString("quality")
	q, err := srs.ParseQuality(name)
	if err != nil {
		return "", 0, err
	}
	return cardID, q, nil
}

func printOutcome(out io.Writer, o study.Outcome) {
	if !o.Processed {
		fmt.Fprintln(out, "already processed")
		return
	}
	if o.Result.LogOnly {
		fmt.Fprintf(out, "%s: not due, response logged\n", o.Card.ID)
		return
	}
	fmt.Fprintf(out, "%s: next review %s (interval %.0f days, factor %.2f)\n",
		o.Card.ID, o.Card.NextReviewDate.Format(time.DateOnly), o.Result.Interval, o.Result.DifficultyFactor)
}

var reviewCommand = command{
	usage: "Record a scheduled response",
	flags: func(fs *pflag.FlagSet) {
		responseFlags(fs)
		fs.String("op", "", "Operation id; a random one is used when empty")
	},
	run: func(a *app, fs *pflag.FlagSet, out io.Writer) error {
		cardID, q, err := readResponse(fs)
		if err != nil {
			return fmt.Errorf("review: %w", err)
		}
		op, _ := fs.GetString("op")
		if op == "" {
			op = study.NewOperationID()
		}
		o, err := a.study.Respond(op, cardID, q)
		if err != nil {
			return err
		}
		printOutcome(out, o)
		return nil
	},
}

var freeCommand = command{
	usage: "Record a free-study response",
	flags: responseFlags,
	run: func(a *app, fs *pflag.FlagSet, out io.Writer) error {
		cardID, q, err := readResponse(fs)
		if err != nil {
			return fmt.Errorf("free: %w", err)
		}
		o, err := a.study.FreeStudy(cardID, q)
		if err != nil {
			return err
		}
		printOutcome(out, o)
		return nil
	},
}

var previewCommand = command{
	usage: "Show what each response would schedule",
	flags: func(fs *pflag.FlagSet) {
		fs.String("card", "", "Card id")
	},
	run: func(a *app, fs *pflag.FlagSet, out io.Writer) error {
		cardID, _ := fs.GetString("card")
		if cardID == "" {
			return errors.New("preview: --card is required")
		}
		preview, err := a.study.Preview(cardID)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "QUALITY\tINTERVAL\tFACTOR\tNEXT")
		for _, q := range srs.Qualities {
			r := preview[q]
			if r.LogOnly {
				fmt.Fprintf(tw, "%s\t-\t-\tnot due\n", q)
				continue
			}
			fmt.Fprintf(tw, "%s\t%.0f\t%.2f\t%s\n", q, r.Interval, r.DifficultyFactor, r.NextReviewDate.Format(time.DateOnly))
		}
		return tw.Flush()
	},
}

func printCards(out io.Writer, a *app, cards []domain.Card) error {
	now := time.Now()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tNEXT\tINTERVAL\tQUESTION")
	for _, c := range cards {
		next := "-"
		if c.NextReviewDate != nil {
			next = c.NextReviewDate.In(a.engine.Location()).Format(time.DateOnly)
		}
		question := strings.SplitN(c.Question, "\n", 2)[0]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f\t%s\n", c.ID, a.planner.Classify(c, now), next, c.Interval, question)
	}
	return tw.Flush()
}

var sessionCommand = command{
	usage: "List the cards for the next study session",
	flags: func(fs *pflag.FlagSet) {
		fs.Int("min", 1, "Minimum number of cards in the session")
		fs.StringSlice("exclude", nil, "Card ids to leave out")
	},
	run: func(a *app, fs *pflag.FlagSet, out io.Writer) error {
		minCount, _ := fs.GetInt("min")
		exclude, _ := fs.GetStringSlice("exclude")
		excluded := make(map[string]bool, len(exclude))
		for _, id := range exclude {
			excluded[id] = true
		}
		cards, err := a.study.Session(minCount, excluded)
		if errors.Is(err, study.ErrNothingDue) {
			fmt.Fprintln(out, "nothing to study")
			return nil
		}
		if err != nil {
			return err
		}
		return printCards(out, a, cards)
	},
}

var statsCommand = command{
	usage: "Show deck statistics",
	run: func(a *app, _ *pflag.FlagSet, out io.Writer) error {
		stats, counts, err := a.study.Stats()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "cards:      %d\n", stats.TotalCards)
		fmt.Fprintf(out, "ready:      %d\n", stats.ReadyCount)
		fmt.Fprintf(out, "mastered:   %d (%.1f%%)\n", stats.MasteredCards, stats.MasteryPercentage)
		fmt.Fprintf(out, "today:      %d\n", stats.TodayReviewCount)
		for status := deck.Learning; status <= deck.New; status++ {
			if n := counts[status]; n > 0 {
				fmt.Fprintf(out, "  %-10s %d\n", status, n)
			}
		}
		return nil
	},
}

var listCommand = command{
	usage: "List every card with its status",
	run: func(a *app, _ *pflag.FlagSet, out io.Writer) error {
		cards, err := a.db.AllCards()
		if err != nil {
			return err
		}
		return printCards(out, a, cards)
	},
}

var removeCommand = command{
	usage: "Delete a card and its review history",
	flags: func(fs *pflag.FlagSet) {
		fs.String("card", "", "Card id")
	},
	run: func(a *app, fs *pflag.FlagSet, out io.Writer) error {
		cardID, _ := fs.GetString("card")
		if cardID == "" {
			return errors.New("remove: --card is required")
		}
		if err := a.db.DeleteCard(cardID); err != nil {
			return err
		}
		fmt.Fprintf(out, "removed %s\n", cardID)
		return nil
	},
}

var serveCommand = command{
	usage: "Serve the study API over HTTP",
	flags: func(fs *pflag.FlagSet) {
		fs.String("addr", "127.0.0.1:8080", "Listen address")
	},
	run: func(a *app, fs *pflag.FlagSet, _ io.Writer) error {
		addr, _ := fs.GetString("addr")
		srv := &http.Server{
			Addr:              addr,
			Handler:           web.NewServer(a.study, a.logger),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("listening", "addr", addr)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
