package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fabfab/recollect/backend"
	"github.com/fabfab/recollect/config"
	"github.com/fabfab/recollect/logging"
	"github.com/fabfab/recollect/snapshot"
)

type VisitUploader interface {
	UploadVisits(ctx context.Context, visits []backend.URLVisit) (int, error)
}

type NotesSyncer interface {
	EnsureRecurringImport(ctx context.Context) (string, error)
	SyncNotes(ctx context.Context, importID string, notes []backend.Note) (int, error)
}

// Report summarises one collector run.
type Report struct {
	Source   string `json:"source"`
	Skipped  bool   `json:"skipped"`
	Found    int    `json:"found"`
	Uploaded int    `json:"uploaded"`
}

// Collector runs the Safari and notes syncs and records their last
// successful run in the snapshot.
type Collector struct {
	safari    *SafariReader
	visits    VisitUploader
	notes     NotesSyncer
	notesFile string
	interval  time.Duration
	store     *snapshot.Store
	now       func() time.Time
	logger    *zap.Logger
}

func New(cfg config.CollectorConfig, visits VisitUploader, notes NotesSyncer, store *snapshot.Store, logger *zap.Logger) *Collector {
	logger = logging.OrNop(logger).Named("collector")
	interval := cfg.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Collector{
		safari:    NewSafariReader(cfg, logger),
		visits:    visits,
		notes:     notes,
		notesFile: cfg.NotesFile,
		interval:  interval,
		store:     store,
		now:       time.Now,
		logger:    logger,
	}
}

// due reports whether last is old enough for another run.
func (c *Collector) due(last time.Time, now time.Time) bool {
	return last.IsZero() || now.Sub(last) >= c.interval
}

// SyncSafari uploads visits recorded since the last successful sync, or the
// last day when there is none. Unless force is set it does nothing when the
// last sync is within the interval. The sync time only advances when every
// batch was accepted.
func (c *Collector) SyncSafari(ctx context.Context, force bool) (Report, error) {
	report := Report{Source: "safari"}
	snap, err := c.store.Load()
	if err != nil {
		return report, err
	}

	started := c.now()
	if !force && !c.due(snap.SafariSync, started) {
		c.logger.Debug("safari sync not due", zap.Time("last", snap.SafariSync))
		report.Skipped = true
		return report, nil
	}

	since := snap.SafariSync
	if since.IsZero() {
		since = started.Add(-24 * time.Hour)
	}
	visits, err := c.safari.Visits(ctx, since)
	if err != nil {
		return report, err
	}
	report.Found = len(visits)

	if len(visits) > 0 {
		report.Uploaded, err = c.visits.UploadVisits(ctx, visits)
		if err != nil {
			c.logger.Warn("safari upload incomplete",
				zap.Int("uploaded", report.Uploaded),
				zap.Int("found", report.Found),
				zap.Error(err),
			)
			return report, fmt.Errorf("upload safari history: %w", err)
		}
	}

	if err := c.store.Update(func(s *snapshot.Snapshot) { s.SafariSync = started.UTC() }); err != nil {
		return report, err
	}
	c.logger.Info("safari history synced", zap.Int("visits", report.Uploaded))
	return report, nil
}

// SyncNotes uploads the exported notes under the user's recurring import,
// creating the import on first use.
func (c *Collector) SyncNotes(ctx context.Context, force bool) (Report, error) {
	report := Report{Source: "notes"}
	snap, err := c.store.Load()
	if err != nil {
		return report, err
	}

	started := c.now()
	if !force && !c.due(snap.NotesSync, started) {
		c.logger.Debug("notes sync not due", zap.Time("last", snap.NotesSync))
		report.Skipped = true
		return report, nil
	}

	notes, err := LoadNotes(c.notesFile)
	if err != nil {
		return report, err
	}
	report.Found = len(notes)

	importID := snap.NotesID
	if importID == "" {
		importID, err = c.notes.EnsureRecurringImport(ctx)
		if err != nil {
			return report, fmt.Errorf("notes recurring import: %w", err)
		}
	}

	report.Uploaded, err = c.notes.SyncNotes(ctx, importID, notes)
	if err != nil {
		return report, fmt.Errorf("sync notes: %w", err)
	}

	if err := c.store.Update(func(s *snapshot.Snapshot) {
		s.NotesID = importID
		s.NotesSync = started.UTC()
	}); err != nil {
		return report, err
	}
	c.logger.Info("notes synced", zap.Int("notes", report.Uploaded), zap.String("import_id", importID))
	return report, nil
}
