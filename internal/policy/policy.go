package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidPolicy is returned when a Policy fails validation.
var ErrInvalidPolicy = errors.New("policy: invalid policy")

// Quality codes used by the scheduling tables. They follow the SM-2 0..5 scale.
const (
	QualityCodeConfident = 5
	QualityCodeHesitant  = 3
	QualityCodeIncorrect = 1
)

// Policy holds the scheduling constants every other component reads.
// None of the engine code hardcodes a number that lives here.
type Policy struct {
	MinFactor     float64 `koanf:"min_factor" validate:"gt=0"`
	MaxFactor     float64 `koanf:"max_factor" validate:"gtfield=MinFactor"`
	DefaultFactor float64 `koanf:"default_factor" validate:"gtefield=MinFactor,ltefield=MaxFactor"`

	MasteryIntervalDays  float64 `koanf:"mastery_interval_days" validate:"gt=0"`
	ModerateIntervalDays float64 `koanf:"moderate_interval_days" validate:"gt=0"` // longest interval pulled forward to fill a session
	SoftCapThresholdDays float64 `koanf:"soft_cap_threshold_days" validate:"gt=0"`
	MinimumIntervalDays  float64 `koanf:"minimum_interval_days" validate:"gt=0"`
	MaximumIntervalDays  float64 `koanf:"maximum_interval_days" validate:"gtfield=SoftCapThresholdDays"`

	// EarlyGraduatingIntervals are the fixed intervals used for the first
	// successful reviews of a new card, indexed by review count.
	EarlyGraduatingIntervals []float64 `koanf:"early_graduating_intervals" validate:"dive,gt=0"`

	HesitantMultiplier      float64 `koanf:"hesitant_multiplier" validate:"gt=0"`
	StandardLapseMultiplier float64 `koanf:"standard_lapse_multiplier" validate:"gt=0,lte=1"`
	GentleLapseMultiplier   float64 `koanf:"gentle_lapse_multiplier" validate:"gt=0,lte=1"`
	LapseIntervalMin        float64 `koanf:"lapse_interval_min" validate:"gt=0"`
	LapseIntervalMax        float64 `koanf:"lapse_interval_max" validate:"gtefield=LapseIntervalMin"`
	GentleLapseStreak       int     `koanf:"gentle_lapse_streak" validate:"gte=1"`

	ConfidentIncrease float64 `koanf:"confident_increase" validate:"gte=0"`
	HesitantIncrease  float64 `koanf:"hesitant_increase"`
	IncorrectDecrease float64 `koanf:"incorrect_decrease" validate:"gte=0"`

	LedgerMaxSize int `koanf:"ledger_max_size" validate:"gte=1"`
	CacheMaxSize  int `koanf:"cache_max_size" validate:"gte=1"`

	// Timezone is an IANA zone name, or "Local" for the host zone.
	Timezone string `koanf:"timezone" validate:"required,zone"`
}

// Default returns the production policy.
func Default() Policy {
	return Policy{
		MinFactor:     1.3,
		MaxFactor:     3.0,
		DefaultFactor: 2.3,

		MasteryIntervalDays:  21,
		ModerateIntervalDays: 7,
		SoftCapThresholdDays: 3 * 365,
		MinimumIntervalDays:  1,
		MaximumIntervalDays:  36500,

		EarlyGraduatingIntervals: []float64{3, 7},

		HesitantMultiplier:      1.35,
		StandardLapseMultiplier: 0.4,
		GentleLapseMultiplier:   0.6,
		LapseIntervalMin:        1,
		LapseIntervalMax:        7,
		GentleLapseStreak:       6,

		ConfidentIncrease: 0.12,
		HesitantIncrease:  0,
		IncorrectDecrease: 0.15,

		LedgerMaxSize: 1000,
		CacheMaxSize:  1000,

		Timezone: "Local",
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// The built-in "timezone" tag rejects "Local", which is a legitimate setting here.
	_ = v.RegisterValidation("zone", func(fl validator.FieldLevel) bool {
		_, err := LoadLocation(fl.Field().String())
		return err == nil
	})
	return v
}

// LoadLocation resolves a policy timezone name. "Local" and "" map to the host zone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidPolicy, name, err)
	}
	return loc, nil
}

// Validate checks every bound of the policy.
func (p Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	return nil
}
