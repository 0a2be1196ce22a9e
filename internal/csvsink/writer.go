package csvsink

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/andresuchdata/catalog-export/internal/domain"
	"github.com/andresuchdata/catalog-export/pkg/logger"
)

const opWrite = "write csv"

// Artifact describes a CSV file written to local disk.
type Artifact struct {
	Path    string
	Rows    int
	Columns []string
	Bytes   int64
}

// Writer serializes product tables to CSV files.
//
// The header row holds the table columns in order, followed by one row per
// record. No index column is written. The file is replaced atomically, so the
// destination either keeps its previous content or holds the complete new
// file.
type Writer struct {
	perm os.FileMode
}

// NewWriter creates a Writer producing files with mode 0644.
func NewWriter() *Writer {
	return &Writer{perm: 0o644}
}

// Write serializes table to path, overwriting any existing file. The
// destination directory must exist.
func (w *Writer) Write(table *domain.ProductTable, path string) (Artifact, error) {
	if strings.TrimSpace(path) == "" {
		return Artifact{}, domain.Errorf(domain.KindConfig, opWrite, "output path is required")
	}
	if table == nil {
		table = domain.NewProductTable()
	}

	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return Artifact{}, domain.E(domain.KindFilesystem, opWrite, errors.Wrapf(err, "create temp file for %s", path))
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	cw := csv.NewWriter(tmp)
	if len(table.Columns) > 0 {
		if err := cw.Write(table.Columns); err != nil {
			return Artifact{}, domain.E(domain.KindFilesystem, opWrite, errors.Wrap(err, "write csv header"))
		}
		for i := range table.Records {
			if err := cw.Write(table.Row(i)); err != nil {
				return Artifact{}, domain.E(domain.KindFilesystem, opWrite, errors.Wrapf(err, "write csv row %d", i))
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return Artifact{}, domain.E(domain.KindFilesystem, opWrite, errors.Wrap(err, "flush csv"))
	}

	if err := tmp.Chmod(w.perm); err != nil {
		return Artifact{}, domain.E(domain.KindFilesystem, opWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		return Artifact{}, domain.E(domain.KindFilesystem, opWrite, err)
	}
	info, err := tmp.Stat()
	if err != nil {
		return Artifact{}, domain.E(domain.KindFilesystem, opWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return Artifact{}, domain.E(domain.KindFilesystem, opWrite, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return Artifact{}, domain.E(domain.KindFilesystem, opWrite, errors.Wrapf(err, "replace %s", path))
	}
	committed = true

	artifact := Artifact{
		Path:    path,
		Rows:    table.Len(),
		Columns: append([]string(nil), table.Columns...),
		Bytes:   info.Size(),
	}

	logger.Log.Info().
		Str("file", path).
		Int("rows", artifact.Rows).
		Int64("bytes", artifact.Bytes).
		Msg("data saved")

	return artifact, nil
}
