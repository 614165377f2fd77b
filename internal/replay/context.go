// Package replay switches data access between live producers and a validated snapshot. The
// choice is an explicit Context value fixed for the lifetime of a job.
package replay

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"FinStore/pkg/util"
)

type Mode string

const (
	Live   Mode = "live"
	Replay Mode = "replay"
)

// ParseMode accepts "live" or "replay" in any case; empty means live.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", Live:
		return Live, nil
	case Replay:
		return Replay, nil
	}
	return "", fmt.Errorf("unknown replay mode %q", s)
}

// Context is immutable once built.
type Context struct {
	mode Mode
	asOf time.Time
}

// LiveContext is the default context.
func LiveContext() Context { return Context{mode: Live} }

// NewContext builds a context. Replay requires an as-of date, which is truncated to its day.
func NewContext(mode Mode, asOf time.Time) (Context, error) {
	switch mode {
	case Live:
		return Context{mode: Live}, nil
	case Replay:
		if asOf.IsZero() {
			return Context{}, errors.New("replay mode requires an as-of date")
		}
		return Context{mode: Replay, asOf: util.Day(asOf)}, nil
	}
	return Context{}, fmt.Errorf("unknown replay mode %q", mode)
}

// FromConfig builds a context from the textual mode and YYYY-MM-DD as-of date.
func FromConfig(mode, asOf string) (Context, error) {
	m, err := ParseMode(mode)
	if err != nil {
		return Context{}, err
	}
	if m == Live {
		return LiveContext(), nil
	}
	if asOf == "" {
		return Context{}, errors.New("replay mode requires an as-of date")
	}
	d, err := util.ParseDate(asOf)
	if err != nil {
		return Context{}, err
	}
	return NewContext(Replay, d)
}

func (c Context) Mode() Mode { return c.mode }

// AsOf is zero in live mode.
func (c Context) AsOf() time.Time { return c.asOf }

func (c Context) IsReplay() bool { return c.mode == Replay }

func (c Context) String() string {
	if c.IsReplay() {
		return "replay(" + util.FormatDate(c.asOf) + ")"
	}
	return string(Live)
}
