package export

import (
	"context"
	"io"

	"colmerge/internal/config"
	"colmerge/internal/storage"
	"colmerge/internal/transformer"
)

// Open builds the sinks an export configuration asks for: always the CSV
// file, plus a database table when cfg.Storage is set. The returned close
// func releases the database connection and is never nil.
//
// Backends must already be registered (see storage/all).
func Open(ctx context.Context, cfg config.Export, stdout io.Writer) ([]Sink, func(), error) {
	sinks := []Sink{&FileSink{Path: cfg.Path, Stdout: stdout}}
	if cfg.Storage == nil {
		return sinks, func() {}, nil
	}

	st := cfg.Storage
	repo, err := storage.New(ctx, storage.Config{Kind: st.Kind, DSN: st.DSN})
	if err != nil {
		return nil, func() {}, err
	}
	sinks = append(sinks, &RepositorySink{
		Repo:      repo,
		Table:     st.Table,
		Dedupe:    st.Dedupe,
		BatchSize: st.BatchSize,
		Hash: transformer.RowHash{
			IncludeFieldNames: st.HashFieldNames,
			TrimSpace:         st.HashTrimSpace,
		},
	})
	return sinks, repo.Close, nil
}
