package pipeline

import (
	"context"
	"time"

	"github.com/andresuchdata/catalog-export/internal/csvsink"
	"github.com/andresuchdata/catalog-export/internal/domain"
	"github.com/andresuchdata/catalog-export/internal/storage"
	"github.com/andresuchdata/catalog-export/internal/uploader"
)

// Fetcher retrieves the product catalog.
type Fetcher interface {
	FetchProducts(ctx context.Context) (*domain.ProductTable, error)
}

// Writer persists a product table to a local file.
type Writer interface {
	Write(table *domain.ProductTable, path string) (csvsink.Artifact, error)
}

// Uploader copies a local file into the destination bucket.
type Uploader interface {
	Upload(ctx context.Context, req uploader.Request) (storage.ObjectInfo, error)
	Bucket() string
}

// Recorder stores finished runs, e.g. in the run ledger.
type Recorder interface {
	Record(ctx context.Context, run *Run) error
}

// Observer is notified once per finished run.
type Observer interface {
	ObserveRun(run *Run)
}

// Stage names one step of an export run.
type Stage string

const (
	StageFetch  Stage = "fetch"
	StageWrite  Stage = "write"
	StageUpload Stage = "upload"
)

// Options holds the per-run parameters of an Orchestrator.
type Options struct {
	OutputPath string
	// ObjectName defaults to the base name of OutputPath.
	ObjectName string
	// SkipUpload stops the run after the CSV is written.
	SkipUpload bool
}

// StageRun tracks a single stage of a run.
type StageRun struct {
	Name        Stage         `json:"name"`
	Status      domain.Status `json:"status"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// Run tracks a single execution of the export.
type Run struct {
	ID          string           `json:"id"`
	Status      domain.Status    `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Stages      []*StageRun      `json:"stages"`
	Rows        int              `json:"rows"`
	Columns     int              `json:"columns"`
	OutputPath  string           `json:"output_path"`
	Bytes       int64            `json:"bytes"`
	Bucket      string           `json:"bucket,omitempty"`
	Object      string           `json:"object,omitempty"`
	ErrorKind   domain.ErrorKind `json:"error_kind,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Stage returns the named stage, or nil when the run does not include it.
func (r *Run) Stage(name Stage) *StageRun {
	for _, s := range r.Stages {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Duration is the wall time of a finished run, zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Succeeded reports whether every stage completed.
func (r *Run) Succeeded() bool {
	return r.Status == domain.StatusCompleted
}
