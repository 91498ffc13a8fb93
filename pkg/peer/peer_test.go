package peer

import (
	"context"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koba/rangesync/pkg/adapter"
	"github.com/koba/rangesync/pkg/codec"
	"github.com/koba/rangesync/pkg/model"
	"github.com/koba/rangesync/pkg/sqlgen"
)

// storeAdapter is a minimal in-memory adapter.Adapter over a single table
// "t(id SINT PK, val TEXT)", used to exercise the full wire protocol
// end-to-end (FromWorker <-> ToWorker over an io.Pipe) without a real
// database, mirroring pkg/syncengine's test double.
type storeAdapter struct {
	rows map[int64]string
}

var _ adapter.Adapter = (*storeAdapter)(nil)

func newStore(rows map[int64]string) *storeAdapter {
	if rows == nil {
		rows = map[int64]string{}
	}
	return &storeAdapter{rows: rows}
}

func (s *storeAdapter) QuoteIdentifier(name string) string { return "`" + name + "`" }
func (s *storeAdapter) IndexNamesAreGlobal() bool           { return true }
func (s *storeAdapter) EscapeBytes(b []byte) string         { return "X'" + string(b) + "'" }
func (s *storeAdapter) EscapeString(v string) string        { return "'" + v + "'" }
func (s *storeAdapter) BoolLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
func (s *storeAdapter) ColumnDefinition(sqlgen.ColumnDef) string { return "" }
func (s *storeAdapter) ColumnDefinitionFor(model.Column) string  { return "" }

func (s *storeAdapter) Connect(context.Context, string, string, string, string, string) error {
	return nil
}
func (s *storeAdapter) Close() error                                   { return nil }
func (s *storeAdapter) StartReadTransaction(context.Context) error     { return nil }
func (s *storeAdapter) StartWriteTransaction(context.Context) error    { return nil }
func (s *storeAdapter) Commit(context.Context) error                   { return nil }
func (s *storeAdapter) Rollback(context.Context) error                 { return nil }
func (s *storeAdapter) ExportSnapshot(context.Context) (string, error) { return "", nil }
func (s *storeAdapter) ImportSnapshot(context.Context, string) error   { return nil }
func (s *storeAdapter) UnholdSnapshot(context.Context) error           { return nil }
func (s *storeAdapter) SelectOne(context.Context, string) (codec.PackedValue, error) {
	return codec.Nil(), nil
}

func (s *storeAdapter) PopulateDatabaseSchema(context.Context) (model.Database, error) {
	return model.Database{Tables: []model.Table{{
		Name: "t",
		Columns: []model.Column{
			{Name: "id", Type: model.SINT},
			{Name: "val", Type: model.TEXT, Nullable: true},
		},
		PrimaryKeyColumns: []int{0},
	}}}, nil
}

var (
	reLower     = regexp.MustCompile("\\(`id`\\) > \\((-?\\d+)\\)")
	reUpper     = regexp.MustCompile("\\(`id`\\) <= \\((-?\\d+)\\)")
	reLimit     = regexp.MustCompile(`LIMIT (\d+)`)
	reDeleteKey = regexp.MustCompile("^DELETE FROM `t` WHERE \\(`id`\\) = \\((-?\\d+)\\)")
	reInsert    = regexp.MustCompile(`VALUES \((-?\d+), '([^']*)'\)`)
	reNotIn     = regexp.MustCompile(`NOT IN \(([^)]*)\)`)
)

func extractInt(query string, re *regexp.Regexp) (int64, bool) {
	m := re.FindStringSubmatch(query)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	return n, err == nil
}

func (s *storeAdapter) Query(ctx context.Context, query string, handler adapter.RowHandler) error {
	lower, hasLower := extractInt(query, reLower)
	upper, hasUpper := extractInt(query, reUpper)
	limit, hasLimit := extractInt(query, reLimit)

	var ids []int64
	for id := range s.rows {
		if hasLower && id <= lower {
			continue
		}
		if hasUpper && id > upper {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for i, id := range ids {
		if hasLimit && int64(i) >= limit {
			break
		}
		if err := handler(&storeRow{id: id, val: s.rows[id]}); err != nil {
			return err
		}
	}
	return nil
}

func (s *storeAdapter) Execute(ctx context.Context, query string) error {
	switch {
	case reDeleteKey.MatchString(query):
		id, _ := extractInt(query, reDeleteKey)
		delete(s.rows, id)
	case strings.HasPrefix(query, "INSERT INTO `t`"):
		if m := reInsert.FindStringSubmatch(query); m != nil {
			id, _ := strconv.ParseInt(m[1], 10, 64)
			s.rows[id] = m[2]
		}
	case strings.HasPrefix(query, "DELETE FROM `t`"):
		lower, hasLower := extractInt(query, reLower)
		upper, hasUpper := extractInt(query, reUpper)
		keep := map[int64]bool{}
		if m := reNotIn.FindStringSubmatch(query); m != nil {
			for _, tok := range strings.Split(m[1], ",") {
				if n, err := strconv.ParseInt(strings.TrimSpace(tok), 10, 64); err == nil {
					keep[n] = true
				}
			}
		}
		for id := range s.rows {
			if hasLower && id <= lower {
				continue
			}
			if hasUpper && id > upper {
				continue
			}
			if keep[id] {
				continue
			}
			delete(s.rows, id)
		}
	}
	return nil
}

type storeRow struct {
	id  int64
	val string
}

func (r *storeRow) IsNull(int) bool { return false }
func (r *storeRow) Bytes(col int) []byte {
	if col == 0 {
		return []byte(strconv.FormatInt(r.id, 10))
	}
	return []byte(r.val)
}
func (r *storeRow) Length(col int) int { return len(r.Bytes(col)) }
func (r *storeRow) AsBool(int) bool    { return false }
func (r *storeRow) AsInt(col int) int64 {
	if col == 0 {
		return r.id
	}
	return 0
}
func (r *storeRow) AsDecodedBytes(col int) []byte { return r.Bytes(col) }
func (r *storeRow) SQLTypeTag(col int) model.ColumnType {
	if col == 0 {
		return model.SINT
	}
	return model.TEXT
}

// runSession wires a FromWorker and a ToWorker over a pair of io.Pipes and
// runs them concurrently, returning once both sides finish.
func runSession(t *testing.T, from *storeAdapter, to *storeAdapter) error {
	t.Helper()
	fromR, toW := io.Pipe()
	toR, fromW := io.Pipe()

	fw := &FromWorker{Adapter: from}
	tw := &ToWorker{Adapter: to}

	errc := make(chan error, 2)
	go func() { errc <- fw.Serve(context.Background(), Pipe{In: fromR, Out: fromW}) }()
	go func() { errc <- tw.Run(context.Background(), Pipe{In: toR, Out: toW}) }()

	var errs []error
	for i := 0; i < 2; i++ {
		select {
		case err := <-errc:
			if err != nil {
				errs = append(errs, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("session did not complete in time")
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func TestSessionConvergesIdenticalTables(t *testing.T) {
	data := map[int64]string{1: "a", 2: "b", 3: "c"}
	from := newStore(copyMap(data))
	to := newStore(copyMap(data))

	require.NoError(t, runSession(t, from, to))
	assert.Equal(t, from.rows, to.rows)
}

func TestSessionReplicatesDifferingRow(t *testing.T) {
	from := newStore(map[int64]string{1: "a", 2: "B", 3: "c"})
	to := newStore(map[int64]string{1: "a", 2: "b", 3: "c"})

	require.NoError(t, runSession(t, from, to))
	assert.Equal(t, from.rows, to.rows)
}

func TestSessionReplicatesEmptySourceTable(t *testing.T) {
	from := newStore(nil)
	to := newStore(map[int64]string{1: "a", 2: "b"})

	require.NoError(t, runSession(t, from, to))
	assert.Empty(t, to.rows)
}

func TestSessionJoinsExportedSnapshot(t *testing.T) {
	from := newStore(map[int64]string{1: "a"})
	to := newStore(nil)

	fromR, toW := io.Pipe()
	toR, fromW := io.Pipe()

	fw := &FromWorker{Adapter: from}
	tw := &ToWorker{Adapter: to, SnapshotID: "snap-1"}

	errc := make(chan error, 2)
	go func() { errc <- fw.Serve(context.Background(), Pipe{In: fromR, Out: fromW}) }()
	go func() { errc <- tw.Run(context.Background(), Pipe{In: toR, Out: toW}) }()
	for i := 0; i < 2; i++ {
		select {
		case err := <-errc:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("session did not complete in time")
		}
	}
	assert.Equal(t, from.rows, to.rows)
}

func TestFromWorkerAnswersExportSnapshot(t *testing.T) {
	fromR, clientW := io.Pipe()
	clientR, fromW := io.Pipe()

	fw := &FromWorker{Adapter: newStore(nil)}
	done := make(chan error, 1)
	go func() { done <- fw.Serve(context.Background(), Pipe{In: fromR, Out: fromW}) }()

	c := newConn(Pipe{In: clientR, Out: clientW})
	_, err := handshakeClient(c)
	require.NoError(t, err)

	require.NoError(t, c.send(VerbExportSnapshot))
	verb, argc, err := c.dec.ReadCommandHeader()
	require.NoError(t, err)
	assert.Equal(t, VerbExportSnapshot, verb)
	require.Equal(t, 1, argc)
	_, err = c.dec.ReadString()
	require.NoError(t, err)

	require.NoError(t, c.send(VerbQuit))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("from worker did not exit on QUIT")
	}
}

func TestFromWorkerRejectsUnknownVerb(t *testing.T) {
	fromR, clientW := io.Pipe()
	clientR, fromW := io.Pipe()

	fw := &FromWorker{Adapter: newStore(nil)}
	done := make(chan error, 1)
	go func() { done <- fw.Serve(context.Background(), Pipe{In: fromR, Out: fromW}) }()

	c := newConn(Pipe{In: clientR, Out: clientW})
	_, err := handshakeClient(c)
	require.NoError(t, err)

	require.NoError(t, c.send(codec.Verb(200)))
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("from worker did not exit on unknown verb")
	}
}

func TestNegotiateTakesMinimumVersion(t *testing.T) {
	assert.Equal(t, ProtocolVersion, negotiate(ProtocolVersion+5))
	assert.Equal(t, 0, negotiate(0))
}

func copyMap(m map[int64]string) map[int64]string {
	out := make(map[int64]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
