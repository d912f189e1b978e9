package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// IncompleteDateError reports a date that lacks calendar components.
type IncompleteDateError struct {
	Value   string
	Missing []string
}

func (e *IncompleteDateError) Error() string {
	return fmt.Sprintf("date %q is missing %s", e.Value, strings.Join(e.Missing, " and "))
}

var (
	yearOnly      = regexp.MustCompile(`^\d{4}$`)
	yearMonth     = regexp.MustCompile(`^\d{4}-\d{1,2}$`)
	monthSlashYr  = regexp.MustCompile(`^\d{1,2}/\d{4}$`)
	fullDateForms = []string{
		"2006-01-02",
		"2006-1-2",
		"01/02/2006",
		"1/2/2006",
		time.RFC3339,
	}
)

// ResolveDate normalizes a date of birth to YYYY-MM-DD. A bare year or a
// year-month yields an *IncompleteDateError naming the missing parts.
func ResolveDate(v string) (string, error) {
	s := strings.TrimSpace(v)
	if s == "" {
		return "", &IncompleteDateError{Value: v, Missing: []string{"year", "month", "day"}}
	}
	switch {
	case yearOnly.MatchString(s):
		return "", &IncompleteDateError{Value: v, Missing: []string{"month", "day"}}
	case yearMonth.MatchString(s), monthSlashYr.MatchString(s):
		return "", &IncompleteDateError{Value: v, Missing: []string{"day"}}
	}
	for _, layout := range fullDateForms {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", eris.Errorf("model: date %q is not a recognizable calendar date", v)
}
