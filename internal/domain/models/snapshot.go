package models

import "time"

// Snapshot component names; also the file stems inside a snapshot directory.
const (
	ComponentBars         = "bars"
	ComponentFundamentals = "fundamentals"
	ComponentMacro        = "macro"
	ComponentNews         = "news"
	ComponentSentiment    = "sentiment"
	ComponentRolling      = "rolling"
)

// Components lists every snapshot component in manifest order.
var Components = []string{
	ComponentBars,
	ComponentFundamentals,
	ComponentMacro,
	ComponentNews,
	ComponentSentiment,
	ComponentRolling,
}

// EODSnapshot is the point-in-time bundle for one as-of date.
type EODSnapshot struct {
	AsOf         time.Time
	Manifest     *Manifest
	Bars         []Bar
	Fundamentals []Fundamental
	Macro        []MacroPoint
	News         []NewsItem
	Sentiment    []SentimentPoint
	Rolling      *RollingState
}

// Manifest describes a saved snapshot.
type Manifest struct {
	AsOf       string           `json:"as_of"`
	CreatedAt  time.Time        `json:"created_at"`
	Components []ComponentEntry `json:"components"`
}

// Component returns the entry named name.
func (m *Manifest) Component(name string) (ComponentEntry, bool) {
	for _, c := range m.Components {
		if c.Name == name {
			return c, true
		}
	}
	return ComponentEntry{}, false
}

type ComponentEntry struct {
	Name    string `json:"name"`
	File    string `json:"file"`
	Records int    `json:"records"`
	SHA256  string `json:"sha256"`
	Bytes   int64  `json:"bytes"`
	MinDate string `json:"min_date,omitempty"`
	MaxDate string `json:"max_date,omitempty"`
}
