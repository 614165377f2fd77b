package snapshot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"FinStore/internal/domain/models"
	"FinStore/pkg/util"
)

// Violation is a record dated after the snapshot's as-of date.
type Violation struct {
	Component string    `json:"component"`
	Key       string    `json:"key"`
	Date      time.Time `json:"date"`
}

// LeakageError rejects a snapshot for replay. The snapshot itself is left untouched.
type LeakageError struct {
	AsOf       time.Time
	Violations []Violation
}

func (e *LeakageError) Error() string {
	const show = 20
	parts := make([]string, 0, show)
	for i, v := range e.Violations {
		if i == show {
			parts = append(parts, fmt.Sprintf("... %d more", len(e.Violations)-show))
			break
		}
		parts = append(parts, fmt.Sprintf("%s/%s@%s", v.Component, v.Key, util.FormatDate(v.Date)))
	}
	return fmt.Sprintf("snapshot %s contains %d future-dated records: %s",
		util.FormatDate(e.AsOf), len(e.Violations), strings.Join(parts, ", "))
}

// Dates returns the distinct offending calendar dates, ascending.
func (e *LeakageError) Dates() []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range e.Violations {
		d := util.FormatDate(v.Date)
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

// Validate checks that every dated record of snap is on or before snap.AsOf.
func Validate(snap *models.EODSnapshot) error {
	var v []Violation
	v = appendViolations(v, models.ComponentBars, snap.AsOf, snap.Bars)
	v = appendViolations(v, models.ComponentFundamentals, snap.AsOf, snap.Fundamentals)
	v = appendViolations(v, models.ComponentMacro, snap.AsOf, snap.Macro)
	v = appendViolations(v, models.ComponentNews, snap.AsOf, snap.News)
	v = appendViolations(v, models.ComponentSentiment, snap.AsOf, snap.Sentiment)
	v = appendViolations(v, models.ComponentRolling, snap.AsOf, rollingRecords(snap.Rolling))
	if len(v) == 0 {
		return nil
	}

	sort.Slice(v, func(i, j int) bool {
		if v[i].Component != v[j].Component {
			return v[i].Component < v[j].Component
		}
		if !v[i].Date.Equal(v[j].Date) {
			return v[i].Date.Before(v[j].Date)
		}
		return v[i].Key < v[j].Key
	})
	return &LeakageError{AsOf: snap.AsOf, Violations: v}
}

func appendViolations[T models.Dated](out []Violation, component string, asOf time.Time, records []T) []Violation {
	for _, r := range records {
		if !util.OnOrBefore(r.RecordDate(), asOf) {
			out = append(out, Violation{Component: component, Key: r.RecordKey(), Date: r.RecordDate()})
		}
	}
	return out
}
