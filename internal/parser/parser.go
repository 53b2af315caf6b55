// Package parser reads flashcards from plain-text deck files.
//
// A card starts at a line beginning with "Q:". Lines beginning with "A:" and
// "C:" start its answer and context; any other line continues the current
// block. A line holding only "---" ends the card.
package parser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
	contextPrefix  = "C:"
	separator      = "---"
)

// Entry is a card as written in a deck file, before it is given an identity
// or a schedule.
type Entry struct {
	Question string
	Answer   string
	Context  string
	Line     int // line of the Q: prefix, starting at 1
}

type field int

const (
	none field = iota
	question
	answer
	context
)

type builder struct {
	entries []Entry
	current Entry
	field   field
	block   []string
}

// flush stores the open block in its field.
func (b *builder) flush() {
	if b.field == none {
		return
	}
	for len(b.block) > 0 && strings.TrimSpace(b.block[len(b.block)-1]) == "" {
		b.block = b.block[:len(b.block)-1]
	}
	text := strings.Join(b.block, "\n")
	switch b.field {
	case question:
		b.current.Question = text
	case answer:
		b.current.Answer = text
	case context:
		b.current.Context = text
	}
	b.block = nil
}

// finish closes the current card. Cards without a question are dropped.
func (b *builder) finish() {
	b.flush()
	if b.current.Question != "" {
		b.entries = append(b.entries, b.current)
	}
	b.current = Entry{}
	b.field = none
}

func (b *builder) start(f field, rest string) {
	b.flush()
	b.field = f
	b.block = []string{strings.TrimPrefix(rest, " ")}
}

// ParseFile reads the deck file at path.
func ParseFile(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	entries, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return entries, nil
}

// Parse reads every card from r.
func Parse(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	var b builder

	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSuffix(scanner.Text(), "\r")

		switch {
		case strings.TrimSpace(line) == separator:
			b.finish()
		case strings.HasPrefix(line, questionPrefix):
			if b.field != none {
				b.finish()
			}
			b.current.Line = n
			b.start(question, line[len(questionPrefix):])
		case strings.HasPrefix(line, answerPrefix) && b.field != none:
			b.start(answer, line[len(answerPrefix):])
		case strings.HasPrefix(line, contextPrefix) && b.field != none:
			b.start(context, line[len(contextPrefix):])
		case b.field != none:
			b.block = append(b.block, line)
		}
	}
	b.finish()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return b.entries, nil
}
