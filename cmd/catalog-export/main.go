package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/catalog-export/internal/config"
	"github.com/andresuchdata/catalog-export/internal/domain"
	"github.com/andresuchdata/catalog-export/pkg/logger"
)

// flagKeys maps command-line flags to the configuration keys they override.
var flagKeys = map[string]string{
	"source-url":  "SOURCE_URL",
	"timeout":     "SOURCE_TIMEOUT_SECONDS",
	"output":      "OUTPUT_PATH",
	"provider":    "STORAGE_PROVIDER",
	"bucket":      "STORAGE_BUCKET",
	"object":      "STORAGE_OBJECT",
	"credentials": "GCS_CREDENTIALS_PATH",
	"local-dir":   "LOCAL_STORAGE_DIR",
	"verify":      "STORAGE_VERIFY",
	"ledger":      "LEDGER_BACKEND",
	"pushgateway": "METRICS_PUSHGATEWAY_URL",
	"log-level":   "LOG_LEVEL",
	"log-format":  "LOG_FORMAT",
}

var exitCodes = map[domain.ErrorKind]int{
	domain.KindConfig:        2,
	domain.KindNetwork:       3,
	domain.KindSerialization: 4,
	domain.KindFilesystem:    5,
	domain.KindAuth:          6,
	domain.KindUpload:        7,
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if code, ok := exitCodes[domain.KindOf(err)]; ok {
		return code
	}
	return 1
}

func sourceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "source-url",
			Usage:   "Catalog endpoint",
			Value:   config.DefaultSourceURL,
			EnvVars: []string{"SOURCE_URL"},
		},
		&cli.IntFlag{
			Name:    "timeout",
			Usage:   "Fetch timeout in seconds, 0 disables it",
			Value:   60,
			EnvVars: []string{"SOURCE_TIMEOUT_SECONDS"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Local CSV path",
			Value:   config.DefaultOutputPath,
			EnvVars: []string{"OUTPUT_PATH"},
		},
	}
}

func storageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "provider",
			Usage:   "Object storage provider: gcs, s3 or local",
			Value:   config.ProviderGCS,
			EnvVars: []string{"STORAGE_PROVIDER"},
		},
		&cli.StringFlag{
			Name:    "bucket",
			Usage:   "Destination bucket",
			EnvVars: []string{"STORAGE_BUCKET"},
		},
		&cli.StringFlag{
			Name:    "object",
			Usage:   "Destination object name (default: file name of the CSV)",
			EnvVars: []string{"STORAGE_OBJECT"},
		},
		&cli.StringFlag{
			Name:    "credentials",
			Usage:   "Service account JSON key file",
			EnvVars: []string{"GCS_CREDENTIALS_PATH", "GOOGLE_APPLICATION_CREDENTIALS"},
		},
		&cli.StringFlag{
			Name:    "local-dir",
			Usage:   "Root directory of local buckets",
			EnvVars: []string{"LOCAL_STORAGE_DIR"},
		},
		&cli.BoolFlag{
			Name:    "verify",
			Usage:   "Compare size and MD5 of the uploaded object with the local file",
			EnvVars: []string{"STORAGE_VERIFY"},
		},
	}
}

func ledgerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "ledger",
			Usage:   "Run ledger backend: none, redis or postgres",
			Value:   config.LedgerNone,
			EnvVars: []string{"LEDGER_BACKEND"},
		},
	}
}

func metricsFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "pushgateway",
			Usage:   "Prometheus Pushgateway URL",
			EnvVars: []string{"METRICS_PUSHGATEWAY_URL"},
		},
	}
}

func flags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "catalog-export",
		Usage:          "Export the product catalog to CSV and upload it to object storage",
		DefaultCommand: "run",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Optional YAML config file",
				EnvVars: []string{"CONFIG_FILE"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (trace, debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format: console or json",
				Value:   "console",
				EnvVars: []string{"LOG_FORMAT"},
			},
		},
		Before: func(c *cli.Context) error {
			logger.Configure(c.String("log-level"), c.String("log-format"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Fetch the catalog, write the CSV and upload it",
				Flags:  flags(sourceFlags(), storageFlags(), ledgerFlags(), metricsFlags()),
				Action: runExport,
			},
			{
				Name:   "fetch",
				Usage:  "Fetch the catalog and write the CSV without uploading",
				Flags:  flags(sourceFlags(), ledgerFlags(), metricsFlags()),
				Action: fetchOnly,
			},
			{
				Name:  "upload",
				Usage: "Upload an existing CSV file",
				Flags: flags([]cli.Flag{
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "CSV file to upload (default: the output path)",
					},
					&cli.StringFlag{
						Name:    "output",
						Value:   config.DefaultOutputPath,
						EnvVars: []string{"OUTPUT_PATH"},
						Hidden:  true,
					},
				}, storageFlags()),
				Action: uploadFile,
			},
			{
				Name:  "history",
				Usage: "Show recent runs from the run ledger",
				Flags: flags([]cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of runs to show",
						Value: 10,
					},
				}, ledgerFlags()),
				Action: showHistory,
			},
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Actions return cli.Exit errors, which exit with their code inside RunContext.
	if err := newApp().RunContext(ctx, os.Args); err != nil {
		logger.Log.Error().Err(err).Msg("catalog-export failed")
		stop()
		os.Exit(exitCode(err))
	}
}
