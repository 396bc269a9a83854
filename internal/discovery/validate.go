package discovery

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/vindex/vindex/internal/model"
)

// MinVintage is the oldest accepted vintage year.
const MinVintage = 1900

// ValidationError describes which rule rejected a candidate record.
type ValidationError struct {
	Rule   int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rule %d: %s", e.Rule, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidationRejected }

// Validator applies the catalog's business rules to a candidate record.
type Validator struct {
	Now func() time.Time
}

// Validate checks rec against the rules in order and stops at the first
// failure. On success it marks the record validated.
//  1. winery is not blank
//  2. wine name is not blank
//  3. vintage is NV or a year in [1900, current year]
//  4. alcohol, when present, is within [5, 22]
func (v Validator) Validate(rec *model.WineRecord) error {
	if strings.TrimSpace(rec.Winery) == "" {
		return &ValidationError{Rule: 1, Reason: "winery is blank"}
	}
	if strings.TrimSpace(rec.WineName) == "" {
		return &ValidationError{Rule: 2, Reason: "wine name is blank"}
	}
	if err := v.checkVintage(rec.Vintage); err != nil {
		return err
	}
	if a := rec.AlcoholContent; a != nil && !inAlcoholRange(*a) {
		return &ValidationError{Rule: 4, Reason: fmt.Sprintf("alcohol %.1f%% outside [%.0f, %.0f]", *a, model.MinAlcohol, model.MaxAlcohol)}
	}
	rec.Validated = true
	return nil
}

func (v Validator) checkVintage(vintage string) error {
	vintage = strings.TrimSpace(vintage)
	if vintage == "" {
		return &ValidationError{Rule: 3, Reason: "vintage is blank"}
	}
	if model.IsNonVintage(vintage) {
		return nil
	}
	year, err := strconv.Atoi(vintage)
	if err != nil || len(vintage) != 4 || strings.IndexFunc(vintage, notDigit) >= 0 {
		return &ValidationError{Rule: 3, Reason: fmt.Sprintf("vintage %q is not a year or NV", vintage)}
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	if current := now().Year(); year < MinVintage || year > current {
		return &ValidationError{Rule: 3, Reason: fmt.Sprintf("vintage %d outside [%d, %d]", year, MinVintage, current)}
	}
	return nil
}

// inAlcoholRange is false for NaN and the infinities.
func inAlcoholRange(a float64) bool {
	return !math.IsNaN(a) && a >= model.MinAlcohol && a <= model.MaxAlcohol
}

func notDigit(r rune) bool { return r < '0' || r > '9' }
