package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"costlens/internal/core"
	"costlens/internal/log"
)

// DefaultConcurrency bounds how many files of a batch are parsed at once.
const DefaultConcurrency = 4

// Source is one file of an upload batch.
type Source struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// BytesSource wraps in-memory file content.
func BytesSource(name string, data []byte) Source {
	return Source{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// Failure is a file that was rejected as a whole.
type Failure struct {
	FileName string
	Err      error
}

func (f Failure) Error() string {
	return fmt.Sprintf("failed to import %s: %v", f.FileName, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// BatchResult collects every file of a batch after all of them resolved.
type BatchResult struct {
	BatchID  string
	Reports  []FileResult // input order
	Failures []Failure    // input order
}

// Warnings flattens the capped per-file warnings.
func (b BatchResult) Warnings() []core.Warning {
	var out []core.Warning
	for _, r := range b.Reports {
		out = append(out, r.Warnings...)
	}
	return out
}

// Importer parses upload batches concurrently.
type Importer struct {
	Concurrency int
}

func NewImporter(concurrency int) *Importer {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Importer{Concurrency: concurrency}
}

// Parse resolves every source to a report or a failure. One failing file never
// stops its siblings, so the group function always returns nil. A started
// batch is not cancellable; ctx only scopes logging.
func (imp *Importer) Parse(ctx context.Context, sources []Source) BatchResult {
	type outcome struct {
		res FileResult
		err error
	}
	outcomes := make([]outcome, len(sources))

	limit := imp.Concurrency
	if limit < 1 {
		limit = DefaultConcurrency
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, src := range sources {
		g.Go(func() error {
			res, err := parseSource(src)
			outcomes[i] = outcome{res: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	batch := BatchResult{BatchID: uuid.NewString()}
	for i, o := range outcomes {
		if o.err != nil {
			batch.Failures = append(batch.Failures, Failure{FileName: sources[i].Name, Err: o.err})
			slog.WarnContext(ctx, "File rejected",
				log.FieldComponent, log.ComponentIngest,
				log.FieldOperation, log.OpImport,
				log.FieldBatchID, batch.BatchID,
				log.FieldFileName, sources[i].Name,
				log.FieldError, o.err)
			continue
		}
		batch.Reports = append(batch.Reports, o.res)
	}
	return batch
}

func parseSource(src Source) (FileResult, error) {
	if src.Open == nil {
		return FileResult{}, fmt.Errorf("%s: no content", src.Name)
	}
	rc, err := src.Open()
	if err != nil {
		return FileResult{}, fmt.Errorf("open %s: %w", src.Name, err)
	}
	defer rc.Close()
	return ParseFile(src.Name, rc)
}
