package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"FinStore/internal/domain/models"
	pkgch "FinStore/pkg/clickhouse"
	applogger "FinStore/pkg/logger"
)

// Schema is the DDL of the tables CHMarketSources reads. The client connects read-only, so it
// is applied out of band.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS bars_daily (
		symbol LowCardinality(String), date Date,
		open Float64, high Float64, low Float64, close Float64, volume Float64
	) ENGINE = ReplacingMergeTree ORDER BY (symbol, date)`,
	`CREATE TABLE IF NOT EXISTS fundamentals (
		symbol LowCardinality(String), report_date Date, period String, metrics String
	) ENGINE = ReplacingMergeTree ORDER BY (symbol, period)`,
	`CREATE TABLE IF NOT EXISTS macro_series (
		series LowCardinality(String), date Date, value Float64
	) ENGINE = ReplacingMergeTree ORDER BY (series, date)`,
	`CREATE TABLE IF NOT EXISTS news (
		id String, symbol LowCardinality(String), headline String, source String, published_at DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree ORDER BY (published_at, id)`,
	`CREATE TABLE IF NOT EXISTS sentiment_daily (
		symbol LowCardinality(String), date Date, score Float64, volume UInt32
	) ENGINE = ReplacingMergeTree ORDER BY (symbol, date)`,
}

// CHMarketSources reads live market inputs from ClickHouse. Every query is bounded by the
// as-of date, so a capture never asks for rows from after it.
type CHMarketSources struct {
	db       *sql.DB
	l        *applogger.Logger
	lookback time.Duration
}

func NewCHMarketSources(ch *pkgch.Client, l *applogger.Logger) *CHMarketSources {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHMarketSources{db: ch.DB(), l: l, lookback: 400 * 24 * time.Hour}
}

// endOfDay is the exclusive upper bound for DateTime columns on asOf.
func endOfDay(asOf time.Time) time.Time {
	y, m, d := asOf.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

func (s *CHMarketSources) query(ctx context.Context, op, q string, args []any, scan func(*sql.Rows) error) error {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse query error", applogger.String("op", op), applogger.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		if err := scan(rows); err != nil {
			s.l.Error("clickhouse scan error", applogger.String("op", op), applogger.Error(err))
			return fmt.Errorf("%s scan: %w", op, err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	s.l.Debug("clickhouse query",
		applogger.String("op", op),
		applogger.Int("rows", n),
		applogger.Duration("took_ms", time.Since(start)),
	)
	return nil
}

func (s *CHMarketSources) Bars(ctx context.Context, asOf time.Time) ([]models.Bar, error) {
	const q = `SELECT symbol, date, open, high, low, close, volume FROM bars_daily FINAL
		WHERE date >= ? AND date < ? ORDER BY symbol, date`
	out := make([]models.Bar, 0, 4096)
	err := s.query(ctx, "bars", q, []any{endOfDay(asOf).Add(-s.lookback), endOfDay(asOf)}, func(rows *sql.Rows) error {
		var b models.Bar
		if err := rows.Scan(&b.Symbol, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return err
		}
		out = append(out, b)
		return nil
	})
	return out, err
}

func (s *CHMarketSources) Fundamentals(ctx context.Context, asOf time.Time) ([]models.Fundamental, error) {
	const q = `SELECT symbol, report_date, period, metrics FROM fundamentals FINAL
		WHERE report_date < ? ORDER BY symbol, report_date`
	var out []models.Fundamental
	err := s.query(ctx, "fundamentals", q, []any{endOfDay(asOf)}, func(rows *sql.Rows) error {
		var f models.Fundamental
		var raw string
		if err := rows.Scan(&f.Symbol, &f.ReportDate, &f.Period, &raw); err != nil {
			return err
		}
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &f.Metrics); err != nil {
				return fmt.Errorf("metrics of %s/%s: %w", f.Symbol, f.Period, err)
			}
		}
		out = append(out, f)
		return nil
	})
	return out, err
}

func (s *CHMarketSources) Macro(ctx context.Context, asOf time.Time) ([]models.MacroPoint, error) {
	const q = `SELECT series, date, value FROM macro_series FINAL
		WHERE date >= ? AND date < ? ORDER BY series, date`
	var out []models.MacroPoint
	err := s.query(ctx, "macro", q, []any{endOfDay(asOf).Add(-s.lookback), endOfDay(asOf)}, func(rows *sql.Rows) error {
		var m models.MacroPoint
		if err := rows.Scan(&m.Series, &m.Date, &m.Value); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

func (s *CHMarketSources) News(ctx context.Context, asOf time.Time) ([]models.NewsItem, error) {
	const q = `SELECT id, symbol, headline, source, published_at FROM news FINAL
		WHERE published_at >= ? AND published_at < ? ORDER BY published_at, id`
	var out []models.NewsItem
	err := s.query(ctx, "news", q, []any{endOfDay(asOf).AddDate(0, 0, -7), endOfDay(asOf)}, func(rows *sql.Rows) error {
		var n models.NewsItem
		if err := rows.Scan(&n.ID, &n.Symbol, &n.Headline, &n.Source, &n.PublishedAt); err != nil {
			return err
		}
		out = append(out, n)
		return nil
	})
	return out, err
}

func (s *CHMarketSources) Sentiment(ctx context.Context, asOf time.Time) ([]models.SentimentPoint, error) {
	const q = `SELECT symbol, date, score, volume FROM sentiment_daily FINAL
		WHERE date >= ? AND date < ? ORDER BY symbol, date`
	var out []models.SentimentPoint
	err := s.query(ctx, "sentiment", q, []any{endOfDay(asOf).AddDate(0, 0, -30), endOfDay(asOf)}, func(rows *sql.Rows) error {
		var p models.SentimentPoint
		var vol uint32
		if err := rows.Scan(&p.Symbol, &p.Date, &p.Score, &vol); err != nil {
			return err
		}
		p.Volume = int(vol)
		out = append(out, p)
		return nil
	})
	return out, err
}
