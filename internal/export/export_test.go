package export

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colmerge/internal/config"
	"colmerge/internal/merge"
	"colmerge/internal/schema"
	"colmerge/internal/storage"
	"colmerge/internal/storage/sqlite"
	"colmerge/internal/transformer"
)

func sampleOutput() *merge.Output {
	return &merge.Output{
		Columns: schema.TargetSchema{"Name", "Email", "Note"},
		Rows: [][]any{
			{"Ada", "ada@example.com", nil},
			{"Grace", nil, "has, comma"},
			{nil, nil, "quote \"here\""},
		},
	}
}

func TestWriteCSV_Golden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleOutput()))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "merged_csv", buf.Bytes())
}

func TestWriteCSV_HeaderOnlyAndDuplicates(t *testing.T) {
	var buf bytes.Buffer
	out := &merge.Output{Columns: schema.TargetSchema{"A", "A"}}
	require.NoError(t, WriteCSV(&buf, out))
	assert.Equal(t, "A,A\n", buf.String())
}

func TestFileSink_WritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	n, err := (&FileSink{Path: path}).Write(context.Background(), sampleOutput())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(got), "Name,Email,Note\nAda,ada@example.com,\n")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestFileSink_Stdout(t *testing.T) {
	var buf bytes.Buffer
	_, err := (&FileSink{Path: "-", Stdout: &buf}).Write(context.Background(), sampleOutput())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("Name,Email,Note\n")))
}

type recordingRepo struct {
	specs   []storage.TableSpec
	batches [][][]any
	columns []string
	dedupe  []string
	max     int
}

func (r *recordingRepo) Close() {}
func (r *recordingRepo) EnsureTables(_ context.Context, t []storage.TableSpec) error {
	r.specs = append(r.specs, t...)
	return nil
}
func (r *recordingRepo) InsertRows(_ context.Context, _ string, cols []string, rows [][]any, dedupe []string) (int64, error) {
	r.columns = cols
	r.dedupe = dedupe
	r.batches = append(r.batches, rows)
	return int64(len(rows)), nil
}
func (r *recordingRepo) MaxParams() int { return r.max }

func TestRepositorySink_BatchesByParamLimit(t *testing.T) {
	repo := &recordingRepo{max: 8} // 4 columns with hash -> 2 rows per statement
	sink := &RepositorySink{Repo: repo, Table: "merged", Dedupe: true, BatchSize: 500}

	n, err := sink.Write(context.Background(), sampleOutput())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.Len(t, repo.batches, 2)
	assert.Len(t, repo.batches[0], 2)
	assert.Len(t, repo.batches[1], 1)
	assert.Equal(t, []string{"Name", "Email", "Note", HashColumn}, repo.columns)
	assert.Equal(t, []string{HashColumn}, repo.dedupe)
	assert.Len(t, repo.batches[0][0], 4)

	require.Len(t, repo.specs, 1)
	spec := repo.specs[0]
	assert.Equal(t, "merged", spec.Name)
	assert.Len(t, spec.Columns, 4)
	assert.False(t, spec.Columns[3].IsNullable())
	assert.Equal(t, []storage.ConstraintSpec{{Kind: "unique", Columns: []string{HashColumn}}}, spec.Constraints)
}

func TestRepositorySink_NoDedupeUsesBatchSize(t *testing.T) {
	repo := &recordingRepo{max: 1000}
	sink := &RepositorySink{Repo: repo, Table: "merged", BatchSize: 1}

	_, err := sink.Write(context.Background(), sampleOutput())
	require.NoError(t, err)
	assert.Len(t, repo.batches, 3)
	assert.Nil(t, repo.dedupe)
	assert.Equal(t, []string{"Name", "Email", "Note"}, repo.columns)
	assert.Empty(t, repo.specs[0].Constraints)
}

func TestRepositorySink_RejectsDuplicateNames(t *testing.T) {
	repo := &recordingRepo{max: 100}
	sink := &RepositorySink{Repo: repo, Table: "merged"}

	_, err := sink.Write(context.Background(), &merge.Output{Columns: schema.TargetSchema{"A", "B", "A"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateColumns))
	assert.Empty(t, repo.specs, "nothing must be created")

	sink.Dedupe = true
	_, err = sink.Write(context.Background(), &merge.Output{Columns: schema.TargetSchema{"A", HashColumn}})
	assert.True(t, errors.Is(err, ErrDuplicateColumns))
}

func TestRepositorySink_SQLiteIdempotent(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "merged.db")
	repo, err := sqlite.New(ctx, storage.Config{Kind: "sqlite", DSN: dsn})
	require.NoError(t, err)
	defer repo.Close()

	sink := &RepositorySink{Repo: repo, Table: "merged", Dedupe: true}

	n, err := sink.Write(ctx, sampleOutput())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = sink.Write(ctx, sampleOutput())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "re-export must not insert duplicates")

	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM merged`).Scan(&count))
	assert.Equal(t, 3, count)

	var email *string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT Email FROM merged WHERE Name = 'Grace'`).Scan(&email))
	assert.Nil(t, email)
}

func TestOpen_FileOnlyAndSQLite(t *testing.T) {
	ctx := context.Background()

	sinks, closeFn, err := Open(ctx, config.Export{Path: "-"}, &bytes.Buffer{})
	require.NoError(t, err)
	closeFn()
	assert.Len(t, sinks, 1)

	sinks, closeFn, err = Open(ctx, config.Export{
		Path:    "-",
		Storage: &config.Storage{
			Kind: "sqlite", DSN: ":memory:", Table: "merged", BatchSize: 10,
			HashFieldNames: true, HashTrimSpace: true,
		},
	}, &bytes.Buffer{})
	require.NoError(t, err)
	defer closeFn()
	require.Len(t, sinks, 2)
	rs, ok := sinks[1].(*RepositorySink)
	require.True(t, ok)
	assert.Equal(t, 10, rs.BatchSize)
	assert.Equal(t, transformer.RowHash{IncludeFieldNames: true, TrimSpace: true}, rs.Hash)

	_, _, err = Open(ctx, config.Export{Storage: &config.Storage{Kind: "oracle"}}, nil)
	assert.Error(t, err)
}
