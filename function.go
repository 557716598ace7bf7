package surveyetl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"cloud.google.com/go/functions/metadata"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

// Event is a Cloud Storage object event.
type Event struct {
	Name   string `json:"name"`
	Bucket string `json:"bucket"`
}

// FullPath returns full path of storage object beginning with gs://.
func (e *Event) FullPath() string {
	return fmt.Sprintf("gs://%s/%s", e.Bucket, e.Name)
}

// HandleEvent runs the job on the uploaded object when its name matches the
// job's pattern. It is meant to back a Cloud Functions entrypoint.
//
// Each event prepares its files in <OutputDir>/<run id>, which is removed
// once the tables are loaded, so concurrent events never share files.
func (p *Pipeline) HandleEvent(ctx context.Context, j *Job, e Event) error {
	if !j.match(e.Name) {
		return nil
	}

	job := *j
	job.Source = e.FullPath()

	ctx, _ = p.start(ctx, &job)
	id, _ := RunIDFrom(ctx)
	job.OutputDir = filepath.Join(j.OutputDir, id)

	l := log.Ctx(ctx).With().Str("object", job.Source).Logger()
	if md, err := metadata.FromContext(ctx); err == nil {
		l = l.With().Str("event_id", md.EventID).Str("event_type", md.EventType).Logger()
	}
	ctx = l.WithContext(ctx)

	l.Info().Msg("event received")

	defer func() {
		if err := os.RemoveAll(job.OutputDir); err != nil {
			l.Warn().Err(err).Str("dir", job.OutputDir).Msg("failed to remove run directory")
		}
	}()

	s, err := p.Run(ctx, &job)
	if err != nil {
		return xerrors.Errorf("failed to run %s: %w", job.Name, err)
	}

	if !s.OK() {
		return xerrors.Errorf("%d tables of %s failed", len(s.Failed()), job.Source)
	}

	return nil
}
