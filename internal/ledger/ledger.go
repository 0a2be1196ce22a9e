package ledger

import (
	"context"

	"github.com/andresuchdata/catalog-export/internal/config"
	"github.com/andresuchdata/catalog-export/internal/domain"
	"github.com/andresuchdata/catalog-export/internal/pipeline"
)

// Ledger keeps an audit trail of export runs. Runs never read it back.
type Ledger interface {
	Record(ctx context.Context, run *pipeline.Run) error
	// Recent returns up to n runs, newest first.
	Recent(ctx context.Context, n int) ([]*pipeline.Run, error)
	Close() error
}

// Open connects the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.LedgerConfig) (Ledger, error) {
	switch cfg.Backend {
	case "", config.LedgerNone:
		return Nop{}, nil
	case config.LedgerRedis:
		l, err := NewRedisLedger(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return l, nil
	case config.LedgerPostgres:
		l, err := NewPostgresLedger(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, domain.Errorf(domain.KindConfig, "open ledger", "unsupported ledger backend: %s", cfg.Backend)
	}
}

// Nop discards runs.
type Nop struct{}

func (Nop) Record(context.Context, *pipeline.Run) error { return nil }

func (Nop) Recent(context.Context, int) ([]*pipeline.Run, error) { return nil, nil }

func (Nop) Close() error { return nil }

var _ pipeline.Recorder = Ledger(nil)
