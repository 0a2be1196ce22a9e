package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/andresuchdata/catalog-export/internal/domain"
	"github.com/andresuchdata/catalog-export/internal/uploader"
	"github.com/andresuchdata/catalog-export/pkg/logger"
)

// recordTimeout bounds ledger writes, which run even after ctx is cancelled.
const recordTimeout = 10 * time.Second

// Orchestrator runs fetch, write and upload in sequence.
type Orchestrator struct {
	fetcher  Fetcher
	writer   Writer
	uploader Uploader
	opts     Options

	recorder Recorder
	observer Observer
	now      func() time.Time
}

type Option func(*Orchestrator)

// WithRecorder stores every finished run with r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithObserver reports every finished run to obs.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		o.observer = obs
	}
}

// NewOrchestrator creates a new Orchestrator. up may be nil when opts.SkipUpload is set.
func NewOrchestrator(f Fetcher, w Writer, up Uploader, opts Options, options ...Option) *Orchestrator {
	if opts.ObjectName == "" && opts.OutputPath != "" {
		opts.ObjectName = filepath.Base(opts.OutputPath)
	}

	o := &Orchestrator{
		fetcher:  f,
		writer:   w,
		uploader: up,
		opts:     opts,
		now:      time.Now,
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

func (o *Orchestrator) newRun() *Run {
	run := &Run{
		ID:         uuid.NewString(),
		Status:     domain.StatusPending,
		StartedAt:  o.now().UTC(),
		OutputPath: o.opts.OutputPath,
		Stages: []*StageRun{
			{Name: StageFetch, Status: domain.StatusPending},
			{Name: StageWrite, Status: domain.StatusPending},
		},
	}
	if !o.opts.SkipUpload {
		run.Object = o.opts.ObjectName
		if o.uploader != nil {
			run.Bucket = o.uploader.Bucket()
		}
		run.Stages = append(run.Stages, &StageRun{Name: StageUpload, Status: domain.StatusPending})
	}
	return run
}

// Run executes one export. It stops at the first failing stage and returns
// the run together with that stage's error. Stages after a failure stay
// pending.
func (o *Orchestrator) Run(ctx context.Context) (*Run, error) {
	run := o.newRun()
	run.Status = domain.StatusProcessing

	log := logger.Log.With().Str("run_id", run.ID).Logger()
	log.Info().Str("output", run.OutputPath).Str("object", run.Object).Msg("export started")

	err := o.execute(ctx, run)

	completed := o.now().UTC()
	run.CompletedAt = &completed
	if err != nil {
		run.Status = domain.StatusFailed
		run.ErrorKind = domain.KindOf(err)
		run.Error = err.Error()
		log.Error().Str("kind", string(run.ErrorKind)).Dur("duration", run.Duration()).Msg("export failed")
	} else {
		run.Status = domain.StatusCompleted
		log.Info().
			Int("rows", run.Rows).
			Int64("bytes", run.Bytes).
			Dur("duration", run.Duration()).
			Msg("export completed")
	}

	o.report(ctx, run)

	return run, err
}

func (o *Orchestrator) execute(ctx context.Context, run *Run) error {
	var table *domain.ProductTable
	err := o.stage(run, StageFetch, func() error {
		var err error
		table, err = o.fetcher.FetchProducts(ctx)
		if err != nil {
			return err
		}
		run.Rows = table.Len()
		run.Columns = len(table.Columns)
		return nil
	})
	if err != nil {
		return err
	}

	err = o.stage(run, StageWrite, func() error {
		artifact, err := o.writer.Write(table, o.opts.OutputPath)
		if err != nil {
			return err
		}
		run.OutputPath = artifact.Path
		run.Bytes = artifact.Bytes
		return nil
	})
	if err != nil || o.opts.SkipUpload {
		return err
	}

	return o.stage(run, StageUpload, func() error {
		if o.uploader == nil {
			return domain.Errorf(domain.KindConfig, "upload", "no uploader configured")
		}
		info, err := o.uploader.Upload(ctx, uploader.Request{
			SourcePath: run.OutputPath,
			ObjectName: run.Object,
		})
		if err != nil {
			return err
		}
		if info.Bucket != "" {
			run.Bucket = info.Bucket
		}
		return nil
	})
}

func (o *Orchestrator) stage(run *Run, name Stage, fn func() error) error {
	st := run.Stage(name)
	if st.Status.Terminal() {
		return domain.Errorf(domain.KindUnknown, string(name), "stage already %s", st.Status)
	}
	started := o.now().UTC()
	st.StartedAt = &started
	st.Status = domain.StatusProcessing

	err := fn()

	completed := o.now().UTC()
	st.CompletedAt = &completed
	st.Duration = completed.Sub(started)
	if err != nil {
		st.Status = domain.StatusFailed
		st.Error = err.Error()
		return err
	}
	st.Status = domain.StatusCompleted
	return nil
}

// report hands the finished run to the observer and the recorder. Their
// failures are logged and never change the outcome of the run.
func (o *Orchestrator) report(ctx context.Context, run *Run) {
	if o.observer != nil {
		o.observer.ObserveRun(run)
	}
	if o.recorder == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := o.recorder.Record(ctx, run); err != nil {
		logger.Log.Warn().Err(err).Str("run_id", run.ID).Msg("failed to record run")
	}
}
