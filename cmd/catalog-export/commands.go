package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/catalog-export/internal/config"
	"github.com/andresuchdata/catalog-export/internal/csvsink"
	"github.com/andresuchdata/catalog-export/internal/domain"
	"github.com/andresuchdata/catalog-export/internal/fakestore"
	"github.com/andresuchdata/catalog-export/internal/ledger"
	"github.com/andresuchdata/catalog-export/internal/observability"
	"github.com/andresuchdata/catalog-export/internal/pipeline"
	"github.com/andresuchdata/catalog-export/internal/storage"
	"github.com/andresuchdata/catalog-export/internal/uploader"
	"github.com/andresuchdata/catalog-export/pkg/logger"
)

// fail logs err once, with its stack, and turns it into the exit code of its kind.
func fail(err error) error {
	code := exitCode(err)
	logger.Log.Error().
		Stack().
		Err(err).
		Str("kind", string(domain.KindOf(err))).
		Int("exit_code", code).
		Msg("catalog export failed")
	return cli.Exit("", code)
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	overrides := make(map[string]interface{})
	for name, key := range flagKeys {
		if c.IsSet(name) {
			overrides[key] = c.Value(name)
		}
	}

	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: c.String("config"),
		Overrides:  overrides,
	})
	if err != nil {
		return nil, err
	}

	// The config file and .env may set the log level too; flags still win
	// because they are applied as overrides.
	logger.Configure(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func runExport(c *cli.Context) error {
	return export(c, false)
}

func fetchOnly(c *cli.Context) error {
	return export(c, true)
}

func export(c *cli.Context, skipUpload bool) error {
	ctx := c.Context

	cfg, err := loadConfig(c)
	if err != nil {
		return fail(err)
	}
	if err := cfg.Validate(!skipUpload); err != nil {
		return fail(err)
	}

	// The storage client parses the credential file, so a bad key fails
	// before anything is fetched.
	var up pipeline.Uploader
	if !skipUpload {
		store, err := storage.New(ctx, cfg.Storage)
		if err != nil {
			return fail(err)
		}
		defer store.Close()
		up = uploader.New(store, uploader.WithVerify(cfg.Storage.Verify))
	}

	led := openLedger(ctx, cfg.Ledger)
	defer led.Close()

	metrics := observability.NewMetrics(cfg.Metrics.Job)

	opts := pipeline.Options{
		OutputPath: cfg.Output.Path,
		SkipUpload: skipUpload,
	}
	if !skipUpload {
		opts.ObjectName = cfg.ObjectName()
	}

	fetcher := fakestore.NewClient(fakestore.Config{
		URL:       cfg.Source.URL,
		Timeout:   cfg.Source.Timeout,
		UserAgent: cfg.Source.UserAgent,
	})

	orch := pipeline.NewOrchestrator(fetcher, csvsink.NewWriter(), up, opts,
		pipeline.WithRecorder(led),
		pipeline.WithObserver(metrics),
	)

	run, runErr := orch.Run(ctx)

	if err := metrics.Push(context.WithoutCancel(ctx), cfg.Metrics.PushgatewayURL); err != nil {
		logger.Log.Warn().Err(err).Msg("failed to push metrics")
	}

	if runErr != nil {
		return fail(runErr)
	}

	if run.Object != "" {
		fmt.Fprintf(c.App.Writer, "exported %d products to %s and %s/%s\n", run.Rows, run.OutputPath, run.Bucket, run.Object)
	} else {
		fmt.Fprintf(c.App.Writer, "exported %d products to %s\n", run.Rows, run.OutputPath)
	}
	return nil
}

// openLedger falls back to a no-op ledger: an unavailable ledger never stops an export.
func openLedger(ctx context.Context, cfg config.LedgerConfig) ledger.Ledger {
	led, err := ledger.Open(ctx, cfg)
	if err != nil {
		logger.Log.Warn().Err(err).Str("backend", cfg.Backend).Msg("run ledger unavailable, runs will not be recorded")
		return ledger.Nop{}
	}
	return led
}

func uploadFile(c *cli.Context) error {
	ctx := c.Context

	cfg, err := loadConfig(c)
	if err != nil {
		return fail(err)
	}
	if err := cfg.Validate(true); err != nil {
		return fail(err)
	}

	src := c.String("file")
	if src == "" {
		src = cfg.Output.Path
	}
	object := cfg.Storage.Object
	if object == "" {
		object = filepath.Base(src)
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	info, err := uploader.New(store, uploader.WithVerify(cfg.Storage.Verify)).Upload(ctx, uploader.Request{
		SourcePath: src,
		ObjectName: object,
	})
	if err != nil {
		return fail(err)
	}

	fmt.Fprintf(c.App.Writer, "uploaded %s to %s/%s (%d bytes)\n", src, store.Bucket(), object, info.Size)
	return nil
}

func showHistory(c *cli.Context) error {
	ctx := c.Context

	cfg, err := loadConfig(c)
	if err != nil {
		return fail(err)
	}
	if err := cfg.Validate(false); err != nil {
		return fail(err)
	}
	if cfg.Ledger.Backend == "" || cfg.Ledger.Backend == config.LedgerNone {
		return fail(domain.Errorf(domain.KindConfig, "history", "no run ledger configured, set LEDGER_BACKEND"))
	}

	led, err := ledger.Open(ctx, cfg.Ledger)
	if err != nil {
		return fail(err)
	}
	defer led.Close()

	runs, err := led.Recent(ctx, c.Int("limit"))
	if err != nil {
		return fail(err)
	}

	return printRuns(c.App.Writer, runs)
}

func printRuns(out io.Writer, runs []*pipeline.Run) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tROWS\tBYTES\tDURATION\tOBJECT\tERROR")
	for _, run := range runs {
		object := ""
		if run.Object != "" {
			object = run.Bucket + "/" + run.Object
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			run.ID,
			run.StartedAt.Local().Format(time.DateTime),
			run.Status.Label(),
			run.Rows,
			run.Bytes,
			run.Duration().Round(time.Millisecond),
			object,
			run.ErrorKind,
		)
	}
	return tw.Flush()
}
