package srs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/conorfennell/knolsched/internal/policy"
)

// ErrInvalidQuality is returned when a quality name or code is not recognised.
var ErrInvalidQuality = errors.New("srs: invalid quality")

// Quality is the user's response to a card.
type Quality int

const (
	Incorrect Quality = iota + 1 // Did not recall.
	Hesitant                     // Recalled with effort.
	Confident                    // Recalled without effort.
)

var qualityNames = [...]string{Incorrect: "incorrect", Hesitant: "hesitant", Confident: "confident"}

// Qualities lists every quality, worst first.
var Qualities = []Quality{Incorrect, Hesitant, Confident}

// IsValid reports whether q is one of the three defined qualities.
func (q Quality) IsValid() bool {
	return q >= Incorrect && q <= Confident
}

// String returns the lowercase name of the quality, or "Quality(n)".
func (q Quality) String() string {
	if q.IsValid() {
		return qualityNames[q]
	}
	return fmt.Sprintf("Quality(%d)", int(q))
}

// Code returns the numeric quality code stored in review logs.
func (q Quality) Code() int {
	switch q {
	case Confident:
		return policy.QualityCodeConfident
	case Hesitant:
		return policy.QualityCodeHesitant
	case Incorrect:
		return policy.QualityCodeIncorrect
	}
	return 0
}

// QualityFromCode is the inverse of Code.
func QualityFromCode(code int) (Quality, error) {
	switch code {
	case policy.QualityCodeConfident:
		return Confident, nil
	case policy.QualityCodeHesitant:
		return Hesitant, nil
	case policy.QualityCodeIncorrect:
		return Incorrect, nil
	}
	return 0, fmt.Errorf("%w: code %d", ErrInvalidQuality, code)
}

// ParseQuality accepts a quality name in any case.
func ParseQuality(s string) (Quality, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, q := range Qualities {
		if qualityNames[q] == name {
			return q, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidQuality, s)
}

// MarshalText implements encoding.TextMarshaler.
func (q Quality) MarshalText() ([]byte, error) {
	if !q.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuality, int(q))
	}
	return []byte(qualityNames[q]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *Quality) UnmarshalText(text []byte) error {
	v, err := ParseQuality(string(text))
	if err != nil {
		return err
	}
	*q = v
	return nil
}
