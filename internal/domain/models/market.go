package models

import "time"

// Dated is implemented by every record that can leak future information into a replay.
type Dated interface {
	RecordDate() time.Time
	RecordKey() string
}

// Bar is a daily OHLCV bar.
type Bar struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

func (b Bar) RecordDate() time.Time { return b.Date }
func (b Bar) RecordKey() string     { return b.Symbol }

type Fundamental struct {
	Symbol     string             `json:"symbol"`
	ReportDate time.Time          `json:"report_date"` // date the figures became public
	Period     string             `json:"period"`      // "2024Q1"
	Metrics    map[string]float64 `json:"metrics"`
}

func (f Fundamental) RecordDate() time.Time { return f.ReportDate }
func (f Fundamental) RecordKey() string     { return f.Symbol + "/" + f.Period }

type MacroPoint struct {
	Series string    `json:"series"` // "CPIAUCSL", "DGS10"
	Date   time.Time `json:"date"`
	Value  float64   `json:"value"`
}

func (m MacroPoint) RecordDate() time.Time { return m.Date }
func (m MacroPoint) RecordKey() string     { return m.Series }

type NewsItem struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol,omitempty"`
	Headline    string    `json:"headline"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

func (n NewsItem) RecordDate() time.Time { return n.PublishedAt }
func (n NewsItem) RecordKey() string     { return n.ID }

type SentimentPoint struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Score  float64   `json:"score"`
	Volume int       `json:"volume"` // number of texts aggregated
}

func (s SentimentPoint) RecordDate() time.Time { return s.Date }
func (s SentimentPoint) RecordKey() string     { return s.Symbol }
