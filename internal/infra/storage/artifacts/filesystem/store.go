// Package filesystem stores report artifacts on local disk, one file per job.
package filesystem

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/campusops/batchline/internal/domain/jobs"
	"github.com/campusops/batchline/internal/infra/storage"
)

var _ jobs.ArtifactStore = (*Store)(nil)

// extensions maps artifact content types to file extensions; unknown types
// fall back to .bin.
var extensions = map[string]string{
	"text/csv":         ".csv",
	"application/json": ".json",
	"application/pdf":  ".pdf",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": ".xlsx",
}

// Store writes artifacts under a base directory. References are file names
// relative to that directory, never absolute paths, so a reference from an
// untrusted caller cannot escape it.
type Store struct {
	baseDir string
	tracer  trace.Tracer
}

// NewStore creates an artifact store rooted at baseDir, creating the
// directory if needed.
func NewStore(baseDir string, tracer trace.Tracer) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	return &Store{baseDir: baseDir, tracer: tracer}, nil
}

// Save writes the artifact bytes for a job, replacing any earlier artifact
// for the same job and content type.
func (s *Store) Save(ctx context.Context, jobID uuid.UUID, contentType string, data []byte) (jobs.Artifact, error) {
	var artifact jobs.Artifact
	err := storage.ExecuteAndTrace(ctx, s.tracer, "filesystem.save_artifact", []attribute.KeyValue{
		attribute.String("job_id", jobID.String()),
		attribute.String("content_type", contentType),
		attribute.Int("size", len(data)),
	}, func(ctx context.Context) error {
		ext, ok := extensions[contentType]
		if !ok {
			ext = ".bin"
		}
		name := jobID.String() + ext

		// Write to a temp file first so a crashed worker never leaves a
		// half-written artifact behind the final name.
		tmp, err := os.CreateTemp(s.baseDir, name+".tmp-")
		if err != nil {
			return fmt.Errorf("creating artifact temp file: %w", err)
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("writing artifact: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("closing artifact temp file: %w", err)
		}
		if err := os.Rename(tmp.Name(), filepath.Join(s.baseDir, name)); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("publishing artifact: %w", err)
		}

		artifact = jobs.Artifact{
			Ref:         name,
			ContentType: contentType,
			Size:        int64(len(data)),
			CreatedAt:   time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return jobs.Artifact{}, err
	}
	return artifact, nil
}

// Open returns a reader over a stored artifact.
func (s *Store) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	_, span := s.tracer.Start(ctx, "filesystem.open_artifact",
		trace.WithAttributes(attribute.String("ref", ref)))
	defer span.End()

	if ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return nil, fmt.Errorf("invalid artifact reference %q", ref)
	}

	f, err := os.Open(filepath.Join(s.baseDir, ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact %q: %w", ref, jobs.ErrArtifactNotFound)
		}
		return nil, fmt.Errorf("opening artifact: %w", err)
	}
	return f, nil
}
