// Package collector gathers locally stored browsing history and notes and
// uploads them for indexing.
package collector

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fabfab/recollect/backend"
	"github.com/fabfab/recollect/config"
	"github.com/fabfab/recollect/logging"
)

// Safari stores visit times as seconds since 2001-01-01 UTC.
var referenceDate = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

const visitsQuery = `
SELECT history_items.url, history_visits.visit_time
FROM history_items
JOIN history_visits ON history_items.id = history_visits.history_item
WHERE history_visits.visit_time > ?
ORDER BY history_visits.visit_time`

// SafariReader reads visits out of Safari's History.db.
type SafariReader struct {
	path               string
	excludedDomains    []string
	excludedExtensions []string
	logger             *zap.Logger
}

func NewSafariReader(cfg config.CollectorConfig, logger *zap.Logger) *SafariReader {
	exts := make([]string, 0, len(cfg.ExcludedExtensions))
	for _, ext := range cfg.ExcludedExtensions {
		exts = append(exts, strings.ToLower(strings.TrimPrefix(ext, ".")))
	}
	domains := make([]string, 0, len(cfg.ExcludedDomains))
	for _, d := range cfg.ExcludedDomains {
		domains = append(domains, strings.ToLower(d))
	}
	return &SafariReader{
		path:               cfg.SafariHistoryPath,
		excludedDomains:    domains,
		excludedExtensions: exts,
		logger:             logging.OrNop(logger).Named("safari"),
	}
}

// openReadOnly opens the history database without taking write locks, so a
// running Safari is not disturbed.
func openReadOnly(path string) (*sql.DB, error) {
	dsn := (&url.URL{Scheme: "file", Path: path, RawQuery: "mode=ro"}).String()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open safari history: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open safari history %s: %w", path, err)
	}
	return db, nil
}

// Visits returns every visit after since, cleaned and filtered, oldest first.
func (r *SafariReader) Visits(ctx context.Context, since time.Time) ([]backend.URLVisit, error) {
	db, err := openReadOnly(r.path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, visitsQuery, since.Sub(referenceDate).Seconds())
	if err != nil {
		return nil, fmt.Errorf("query safari history: %w", err)
	}
	defer rows.Close()

	var (
		visits  []backend.URLVisit
		dropped int
	)
	for rows.Next() {
		var (
			raw       string
			visitTime float64
		)
		if err := rows.Scan(&raw, &visitTime); err != nil {
			return nil, fmt.Errorf("scan safari visit: %w", err)
		}
		cleaned := cleanURL(raw)
		if !r.include(cleaned) {
			dropped++
			continue
		}
		visits = append(visits, backend.URLVisit{
			Timestamp:      visitTimestamp(visitTime),
			URL:            cleaned,
			Title:          "",
			TransitionType: "link",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read safari history: %w", err)
	}

	r.logger.Info("safari history read",
		zap.Time("since", since),
		zap.Int("visits", len(visits)),
		zap.Int("excluded", dropped),
	)
	return visits, nil
}

func (r *SafariReader) include(raw string) bool {
	lower := strings.ToLower(raw)
	for _, domain := range r.excludedDomains {
		if domain != "" && strings.Contains(lower, domain) {
			return false
		}
	}

	u, err := url.Parse(lower)
	if err != nil {
		return true
	}
	if i := strings.LastIndex(u.Path, "."); i >= 0 {
		ext := u.Path[i+1:]
		for _, excluded := range r.excludedExtensions {
			if ext == excluded {
				return false
			}
		}
	}
	return true
}

// cleanURL keeps scheme, host and path; query strings and fragments go.
func cleanURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}).String()
}

func visitTimestamp(seconds float64) string {
	at := referenceDate.Add(time.Duration(seconds * float64(time.Second)))
	return at.UTC().Format(time.RFC3339)
}
