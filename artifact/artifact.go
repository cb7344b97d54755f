// Package artifact saves completed syntheses back to the knowledge index.
package artifact

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fabfab/recollect/config"
	"github.com/fabfab/recollect/errs"
	"github.com/fabfab/recollect/filters"
	"github.com/fabfab/recollect/logging"
	"github.com/fabfab/recollect/synthesis"
)

// Saver posts an artifact payload and returns the server confirmation.
type Saver interface {
	SaveArtifact(ctx context.Context, payload any) (string, error)
}

type Metadata struct {
	Query           string                    `json:"query"`
	StackID         string                    `json:"stack_id"`
	ArtifactIDs     []string                  `json:"artifact_ids"`
	ModelParameters synthesis.ModelParameters `json:"model_parameters"`
}

// Artifact is the write-once record of one synthesis.
type Artifact struct {
	Kind          string   `json:"kind"`
	IndexableText string   `json:"indexable_text"`
	MimeType      string   `json:"mime_type"`
	GeneratedAt   string   `json:"generated_at"`
	Metadata      Metadata `json:"metadata"`
}

// ErrIncomplete is returned for results whose stream did not finish.
var ErrIncomplete = errors.New("synthesis did not complete")

type Persister struct {
	saver    Saver
	kind     string
	mimeType string
	now      func() time.Time
	logger   *zap.Logger
}

func NewPersister(saver Saver, cfg config.ArtifactConfig, logger *zap.Logger) *Persister {
	p := &Persister{
		saver:    saver,
		kind:     cfg.Kind,
		mimeType: cfg.MimeType,
		now:      time.Now,
		logger:   logging.OrNop(logger).Named("artifact"),
	}
	if p.kind == "" {
		p.kind = "recall"
	}
	if p.mimeType == "" {
		p.mimeType = "text/plain"
	}
	return p
}

// Build assembles the artifact for a completed result.
func (p *Persister) Build(result *synthesis.Result) Artifact {
	return Artifact{
		Kind:          p.kind,
		IndexableText: result.Text(),
		MimeType:      p.mimeType,
		GeneratedAt:   p.now().UTC().Format(filters.TimestampLayout),
		Metadata: Metadata{
			Query:           result.Query,
			StackID:         result.StackID,
			ArtifactIDs:     append([]string(nil), result.IDs...),
			ModelParameters: result.Model,
		},
	}
}

// Save persists a completed result once. It does not retry; every failure
// comes back as a PersistenceError.
func (p *Persister) Save(ctx context.Context, result *synthesis.Result) (string, error) {
	if result == nil || !result.Complete() {
		return "", errs.Persistence(ErrIncomplete)
	}

	art := p.Build(result)
	confirmation, err := p.saver.SaveArtifact(ctx, art)
	if err != nil {
		p.logger.Error("save artifact failed",
			zap.String("query", art.Metadata.Query),
			zap.Strings("artifact_ids", art.Metadata.ArtifactIDs),
			zap.Error(err),
		)
		return "", errs.Persistence(err)
	}

	p.logger.Info("artifact saved",
		zap.String("stack_id", art.Metadata.StackID),
		zap.Int("chars", len(art.IndexableText)),
	)
	return strings.TrimSpace(confirmation), nil
}
