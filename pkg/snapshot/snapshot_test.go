package snapshot

import (
	"context"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/koba/rangesync/pkg/adapter"
	"github.com/koba/rangesync/pkg/codec"
	"github.com/koba/rangesync/pkg/model"
	"github.com/koba/rangesync/pkg/sqlgen"
)

// fixtureAdapter is a minimal read-only adapter.Adapter over one in-memory
// table, used only to feed Capture a real RetrieveRows query round-trip.
type fixtureAdapter struct {
	rows map[int64]string
}

var _ adapter.Adapter = (*fixtureAdapter)(nil)

func (f *fixtureAdapter) QuoteIdentifier(name string) string { return "`" + name + "`" }
func (f *fixtureAdapter) IndexNamesAreGlobal() bool           { return true }
func (f *fixtureAdapter) EscapeBytes(b []byte) string         { return "X'" + string(b) + "'" }
func (f *fixtureAdapter) EscapeString(v string) string        { return "'" + v + "'" }
func (f *fixtureAdapter) BoolLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
func (f *fixtureAdapter) ColumnDefinition(sqlgen.ColumnDef) string { return "" }
func (f *fixtureAdapter) ColumnDefinitionFor(model.Column) string  { return "" }

func (f *fixtureAdapter) Connect(context.Context, string, string, string, string, string) error {
	return nil
}
func (f *fixtureAdapter) Close() error                                   { return nil }
func (f *fixtureAdapter) StartReadTransaction(context.Context) error     { return nil }
func (f *fixtureAdapter) StartWriteTransaction(context.Context) error    { return nil }
func (f *fixtureAdapter) Commit(context.Context) error                   { return nil }
func (f *fixtureAdapter) Rollback(context.Context) error                 { return nil }
func (f *fixtureAdapter) ExportSnapshot(context.Context) (string, error) { return "", nil }
func (f *fixtureAdapter) ImportSnapshot(context.Context, string) error   { return nil }
func (f *fixtureAdapter) UnholdSnapshot(context.Context) error           { return nil }
func (f *fixtureAdapter) Execute(context.Context, string) error          { return nil }
func (f *fixtureAdapter) SelectOne(context.Context, string) (codec.PackedValue, error) {
	return codec.Nil(), nil
}

func (f *fixtureAdapter) PopulateDatabaseSchema(context.Context) (model.Database, error) {
	return model.Database{Tables: []model.Table{{
		Name: "widgets",
		Columns: []model.Column{
			{Name: "id", Type: model.SINT},
			{Name: "name", Type: model.TEXT, Nullable: true},
		},
		PrimaryKeyColumns: []int{0},
	}}}, nil
}

var reLimit = regexp.MustCompile(`LIMIT (\d+)`)

func (f *fixtureAdapter) Query(ctx context.Context, query string, handler adapter.RowHandler) error {
	var ids []int64
	for id := range f.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	limit := -1
	if m := reLimit.FindStringSubmatch(query); m != nil {
		limit, _ = strconv.Atoi(m[1])
	}
	for i, id := range ids {
		if limit >= 0 && i >= limit {
			break
		}
		if err := handler(&fixtureRow{id: id, name: f.rows[id]}); err != nil {
			return err
		}
	}
	return nil
}

type fixtureRow struct {
	id   int64
	name string
}

func (r *fixtureRow) IsNull(int) bool      { return false }
func (r *fixtureRow) Bytes(col int) []byte {
	if col == 0 {
		return []byte(strconv.FormatInt(r.id, 10))
	}
	return []byte(r.name)
}
func (r *fixtureRow) Length(col int) int          { return len(r.Bytes(col)) }
func (r *fixtureRow) AsBool(int) bool             { return false }
func (r *fixtureRow) AsInt(col int) int64 {
	if col == 0 {
		return r.id
	}
	return 0
}
func (r *fixtureRow) AsDecodedBytes(col int) []byte { return r.Bytes(col) }
func (r *fixtureRow) SQLTypeTag(col int) model.ColumnType {
	if col == 0 {
		return model.SINT
	}
	return model.TEXT
}

func TestCaptureAndReplayRoundTrip(t *testing.T) {
	src := &fixtureAdapter{rows: map[int64]string{1: "a", 2: "b", 3: "c"}}

	path := filepath.Join(t.TempDir(), "fixture.snap")
	store, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, store.Capture(context.Background(), src))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	db, err := reopened.Database(context.Background())
	require.NoError(t, err)
	require.Len(t, db.Tables, 1)
	require.Equal(t, "widgets", db.Tables[0].Name)

	rows, err := reopened.Rows(context.Background(), "widgets")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, codec.Int(1), rows[0][0])
	require.Equal(t, codec.String("a"), rows[0][1])

	remote, err := reopened.Remote(context.Background(), "widgets")
	require.NoError(t, err)

	hr, err := remote.HashNext(context.Background(), "widgets", nil, 10)
	require.NoError(t, err)
	require.Equal(t, 3, hr.RowCount)
	require.Equal(t, codec.Int(3), hr.LastKey[0])

	got, err := remote.RowsCurr(context.Background(), "widgets", nil, hr.LastKey)
	require.NoError(t, err)
	require.Len(t, got, 3)

	end, err := remote.HashNext(context.Background(), "widgets", hr.LastKey, 10)
	require.NoError(t, err)
	require.Equal(t, 0, end.RowCount)
	require.Empty(t, end.LastKey)
}

func TestCaptureFilterByTableName(t *testing.T) {
	src := &fixtureAdapter{rows: map[int64]string{1: "x"}}
	path := filepath.Join(t.TempDir(), "fixture2.snap")
	store, err := Create(path)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Capture(context.Background(), src, "nonexistent"))

	db, err := store.Database(context.Background())
	require.NoError(t, err)
	require.Empty(t, db.Tables)
}
