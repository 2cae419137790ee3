package metastore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeQuerier is a minimal stand-in for *pgxpool.Pool, recording every
// Exec call and replaying canned Query/QueryRow results, so Store's SQL
// shape can be tested without a live Postgres instance.
type fakeQuerier struct {
	execs   []execCall
	execErr error

	queryRows [][]any
	queryErr  error

	rowValues []any
	rowErr    error
}

type execCall struct {
	sql  string
	args []any
}

func (f *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &fakeRows{data: f.queryRows}, nil
}

func (f *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return &fakeRow{vals: f.rowValues, err: f.rowErr}
}

type fakeRows struct {
	data []any
	idx  int
}

func (r *fakeRows) Close()                                      {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                               { return nil }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Values() ([]any, error) {
	row, _ := r.data[r.idx-1].([]any)
	return row, nil
}

func (r *fakeRows) Scan(dest ...any) error {
	row, ok := r.data[r.idx-1].([]any)
	if !ok {
		return errors.New("fakeRows: row is not []any")
	}
	return assignScan(dest, row)
}

type fakeRow struct {
	vals []any
	err  error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assignScan(dest, r.vals)
}

func assignScan(dest, src []any) error {
	if len(dest) != len(src) {
		return errors.New("assignScan: column count mismatch")
	}
	for i, d := range dest {
		switch dp := d.(type) {
		case *string:
			s, ok := src[i].(string)
			if !ok {
				return errors.New("assignScan: expected string")
			}
			*dp = s
		case *int64:
			v, ok := src[i].(int64)
			if !ok {
				return errors.New("assignScan: expected int64")
			}
			*dp = v
		default:
			return errors.New("assignScan: unsupported destination type")
		}
	}
	return nil
}

func TestUpsertDiscoveredInsertsRow(t *testing.T) {
	fq := &fakeQuerier{}
	s := newStoreWithQuerier(fq)

	if err := s.UpsertDiscovered(context.Background(), "abc123", "https://example.com/"); err != nil {
		t.Fatalf("UpsertDiscovered: %v", err)
	}
	if len(fq.execs) != 1 {
		t.Fatalf("expected 1 exec, got %d", len(fq.execs))
	}
	if !strings.Contains(fq.execs[0].sql, "INSERT INTO pages") {
		t.Errorf("unexpected sql: %s", fq.execs[0].sql)
	}
}

func TestUpsertCrawledPreservesIndexedStatus(t *testing.T) {
	fq := &fakeQuerier{}
	s := newStoreWithQuerier(fq)

	err := s.UpsertCrawled(context.Background(), PageMetadata{
		ID: "abc", URL: "https://example.com/", Title: "Example",
		CrawledAt: time.Now(), ContentLength: 42,
	})
	if err != nil {
		t.Fatalf("UpsertCrawled: %v", err)
	}
	if !strings.Contains(fq.execs[0].sql, "CASE WHEN pages.status = 'indexed'") {
		t.Errorf("expected status-preserving CASE clause, sql: %s", fq.execs[0].sql)
	}
}

func TestCreateCrawlJobReturnsID(t *testing.T) {
	fq := &fakeQuerier{rowValues: []any{int64(42)}}
	s := newStoreWithQuerier(fq)

	id, err := s.CreateCrawlJob(context.Background(), "https://example.com/")
	if err != nil {
		t.Fatalf("CreateCrawlJob: %v", err)
	}
	if id != 42 {
		t.Errorf("id = %d, want 42", id)
	}
}

func TestDistinctPageURLsScansAllRows(t *testing.T) {
	fq := &fakeQuerier{queryRows: []any{
		[]any{"https://a.test/"},
		[]any{"https://b.test/"},
	}}
	s := newStoreWithQuerier(fq)

	urls, err := s.DistinctPageURLs(context.Background())
	if err != nil {
		t.Fatalf("DistinctPageURLs: %v", err)
	}
	if len(urls) != 2 || urls[0] != "https://a.test/" || urls[1] != "https://b.test/" {
		t.Errorf("urls = %v, want [https://a.test/ https://b.test/]", urls)
	}
}

func TestLinkEdgesAmongPagesScansPairs(t *testing.T) {
	fq := &fakeQuerier{queryRows: []any{
		[]any{"https://a.test/", "https://b.test/"},
	}}
	s := newStoreWithQuerier(fq)

	edges, err := s.LinkEdgesAmongPages(context.Background())
	if err != nil {
		t.Fatalf("LinkEdgesAmongPages: %v", err)
	}
	if len(edges) != 1 || edges[0].Source != "https://a.test/" || edges[0].Target != "https://b.test/" {
		t.Errorf("edges = %v, want one a->b edge", edges)
	}
}

func TestLogQueryWrapsUnderlyingError(t *testing.T) {
	fq := &fakeQuerier{execErr: errors.New("connection reset")}
	s := newStoreWithQuerier(fq)

	err := s.LogQuery(context.Background(), "golang", 10, 42, false)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("error should wrap underlying cause, got: %v", err)
	}
}
