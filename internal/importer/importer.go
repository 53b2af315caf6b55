// Package importer loads deck files into the card store.
package importer

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/knol"
	"github.com/conorfennell/knolsched/internal/parser"
	"github.com/conorfennell/knolsched/internal/storage"
)

// Store receives new cards.
type Store interface {
	InsertCard(card domain.Card) error
}

// Report summarizes one import.
type Report struct {
	Files    int
	Parsed   int
	Added    int
	Existing int
	Errors   []error
}

// Importer turns deck file entries into unscheduled cards.
type Importer struct {
	store         Store
	defaultFactor float64
	logger        *slog.Logger
}

// New returns an Importer creating cards with defaultFactor as their
// starting difficulty factor.
func New(store Store, defaultFactor float64, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: store, defaultFactor: defaultFactor, logger: logger}
}

// ImportPath imports a single deck file, or every .md file below a
// directory. Cards already present keep their schedule. Per-file and
// per-card failures are collected in the report; only a failure to walk
// root is returned as an error.
func (im *Importer) ImportPath(root string) (Report, error) {
	var report Report

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || (path != root && !strings.HasSuffix(strings.ToLower(d.Name()), ".md")) {
			return nil
		}
		report.Files++
		entries, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			report.Errors = append(report.Errors, parseErr)
			return nil
		}
		im.add(path, entries, &report)
		return nil
	})
	if walkErr != nil {
		return report, fmt.Errorf("import %s: %w", root, walkErr)
	}

	im.logger.Info("import complete",
		"path", root,
		"files", report.Files,
		"parsed_cards", report.Parsed,
		"added", report.Added,
		"existing", report.Existing,
		"errors", len(report.Errors),
	)
	return report, nil
}

// Import adds entries read from source.
func (im *Importer) Import(source string, entries []parser.Entry) Report {
	var report Report
	im.add(source, entries, &report)
	return report
}

func (im *Importer) add(source string, entries []parser.Entry, report *Report) {
	for _, e := range entries {
		report.Parsed++
		card := domain.NewCard(knol.ID(e.Question, e.Answer, e.Context), e.Question, e.Answer, e.Context, im.defaultFactor)

		err := im.store.InsertCard(card)
		switch {
		case err == nil:
			report.Added++
			im.logger.Debug("card added", "card", card.ID, "source", source, "line", e.Line)
		case errors.Is(err, storage.ErrCardExists):
			report.Existing++
		default:
			report.Errors = append(report.Errors, fmt.Errorf("%s:%d: %w", source, e.Line, err))
		}
	}
}
