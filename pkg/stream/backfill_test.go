package stream

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antelayer/streamgate/pkg/search"
)

// fakeBackend serves a fixed hit list as cursor pages and records every
// call so tests can assert pagination behavior
type fakeBackend struct {
	mu        sync.Mutex
	hits      []search.Record
	totalOver int // reported total override; 0 means len(hits)
	openReq   search.Request
	opens     int
	scrolls   int
	cleared   []string
	openErr   error
	scrollErr error
}

func (f *fakeBackend) total() int {
	if f.totalOver != 0 {
		return f.totalOver
	}
	return len(f.hits)
}

func (f *fakeBackend) page(offset, size int) *search.Page {
	end := offset + size
	if end > len(f.hits) {
		end = len(f.hits)
	}
	var hits []search.Record
	if offset < len(f.hits) {
		hits = f.hits[offset:end]
	}
	cursor := ""
	if end < len(f.hits) {
		cursor = "cursor:" + strconv.Itoa(end)
	}
	return &search.Page{Hits: hits, Total: f.total(), Cursor: cursor}
}

func (f *fakeBackend) Open(ctx context.Context, req search.Request) (*search.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	f.openReq = req
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.page(0, req.PageSize), nil
}

func (f *fakeBackend) Scroll(ctx context.Context, cursor string, keepAlive time.Duration) (*search.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrolls++
	if f.scrollErr != nil {
		return nil, f.scrollErr
	}
	offset, err := strconv.Atoi(strings.TrimPrefix(cursor, "cursor:"))
	if err != nil {
		return nil, search.ErrCursorExpired
	}
	return f.page(offset, f.openReq.PageSize), nil
}

func (f *fakeBackend) ClearCursor(ctx context.Context, cursor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, cursor)
	return nil
}

// fakeSink records delivered envelopes and can simulate the client
// disappearing after a number of batches
type fakeSink struct {
	mu              sync.Mutex
	id              string
	batches         []*Envelope
	disconnectAfter int // 0 means never
	disconnected    bool
	sendErr         error
}

func (f *fakeSink) ID() string {
	if f.id == "" {
		return "client-1"
	}
	return f.id
}

func (f *fakeSink) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.disconnected
}

func (f *fakeSink) Send(env *Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.batches = append(f.batches, env)
	if f.disconnectAfter > 0 && len(f.batches) >= f.disconnectAfter {
		f.disconnected = true
	}
	return nil
}

func (f *fakeSink) disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeSink) records() []search.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []search.Record
	for _, env := range f.batches {
		out = append(out, env.Messages...)
	}
	return out
}

func makeRecords(n int) []search.Record {
	recs := make([]search.Record, n)
	for i := range recs {
		recs[i] = search.Record{
			FieldBlockNum: float64(100 + i),
			"seq":         float64(i),
		}
	}
	return recs
}

func newTestBackfill(backend search.Backend) *Backfill {
	return NewBackfill(backend, nil, nil)
}

func TestBackfill_OrderedWithoutDuplicates(t *testing.T) {
	backend := &fakeBackend{hits: makeRecords(45)}
	sink := &fakeSink{}
	bf := newTestBackfill(backend)

	err := bf.Run(context.Background(), KindDelta, "deltas", search.Query{}, nil, sink)
	require.NoError(t, err)

	// 45 hits at page size 20: three pages, two scrolls
	assert.Equal(t, 1, backend.opens)
	assert.Equal(t, 2, backend.scrolls)
	require.Len(t, sink.batches, 3)

	recs := sink.records()
	require.Len(t, recs, 45)
	prev := -1.0
	for i, rec := range recs {
		assert.Equal(t, float64(i), rec["seq"], "record %d out of order or duplicated", i)
		bn := rec[FieldBlockNum].(float64)
		assert.GreaterOrEqual(t, bn, prev)
		prev = bn
	}

	for _, env := range sink.batches {
		assert.Equal(t, MessageTypeDeltaTrace, env.Type)
		assert.Equal(t, ModeHistory, env.Mode)
	}
}

func TestBackfill_SinglePage(t *testing.T) {
	backend := &fakeBackend{hits: makeRecords(5)}
	sink := &fakeSink{}
	bf := newTestBackfill(backend)

	err := bf.Run(context.Background(), KindAction, "actions", search.Query{}, nil, sink)
	require.NoError(t, err)

	assert.Equal(t, 0, backend.scrolls)
	require.Len(t, sink.batches, 1)
	assert.Equal(t, MessageTypeActionTrace, sink.batches[0].Type)
	assert.Len(t, sink.batches[0].Messages, 5)
}

func TestBackfill_EmptyResult(t *testing.T) {
	backend := &fakeBackend{}
	sink := &fakeSink{}
	bf := newTestBackfill(backend)

	err := bf.Run(context.Background(), KindDelta, "deltas", search.Query{}, nil, sink)
	require.NoError(t, err)
	assert.Empty(t, sink.batches)
}

func TestBackfill_OversizedQueryRejected(t *testing.T) {
	backend := &fakeBackend{hits: makeRecords(20), totalOver: 1500}
	sink := &fakeSink{}
	bf := newTestBackfill(backend)

	err := bf.Run(context.Background(), KindDelta, "deltas", search.Query{}, nil, sink)
	require.NoError(t, err)

	// exactly one terminal empty batch, no paging
	require.Len(t, sink.batches, 1)
	assert.Empty(t, sink.batches[0].Messages)
	assert.Equal(t, ModeHistory, sink.batches[0].Mode)
	assert.Equal(t, 0, backend.scrolls)
}

func TestBackfill_GuardLimitInclusive(t *testing.T) {
	backend := &fakeBackend{hits: makeRecords(20), totalOver: 1000}
	sink := &fakeSink{}
	bf := newTestBackfill(backend)

	err := bf.Run(context.Background(), KindDelta, "deltas", search.Query{}, nil, sink)
	require.NoError(t, err)

	// a total of exactly 1000 is still served
	require.NotEmpty(t, sink.batches)
	assert.Len(t, sink.batches[0].Messages, 20)
}

func TestBackfill_ClientGoneStopsPaging(t *testing.T) {
	backend := &fakeBackend{hits: makeRecords(60)}
	sink := &fakeSink{disconnectAfter: 1}
	bf := newTestBackfill(backend)

	err := bf.Run(context.Background(), KindDelta, "deltas", search.Query{}, nil, sink)
	require.NoError(t, err, "client disappearing is a normal termination")

	assert.Equal(t, 0, backend.scrolls)
	assert.Len(t, sink.batches, 1)
}

func TestBackfill_CursorReleasedOnEarlyExit(t *testing.T) {
	backend := &fakeBackend{hits: makeRecords(60)}
	sink := &fakeSink{disconnectAfter: 1}
	bf := newTestBackfill(backend)

	require.NoError(t, bf.Run(context.Background(), KindDelta, "deltas", search.Query{}, nil, sink))
	assert.Equal(t, []string{"cursor:20"}, backend.cleared)
}

func TestBackfill_OnDemandFiltersApplied(t *testing.T) {
	hits := []search.Record{
		{"seq": float64(0), "act": map[string]interface{}{"data": map[string]interface{}{"to": "bob"}}},
		{"seq": float64(1), "act": map[string]interface{}{"data": map[string]interface{}{"to": "carol"}}},
		{"seq": float64(2), "act": map[string]interface{}{"data": map[string]interface{}{"to": "bob"}}},
	}
	backend := &fakeBackend{hits: hits}
	sink := &fakeSink{}
	bf := newTestBackfill(backend)

	filters := []FieldFilter{{Field: "@act.data.to", Value: "bob"}}
	err := bf.Run(context.Background(), KindAction, "actions", search.Query{}, filters, sink)
	require.NoError(t, err)

	recs := sink.records()
	require.Len(t, recs, 2)
	assert.Equal(t, float64(0), recs[0]["seq"])
	assert.Equal(t, float64(2), recs[1]["seq"])
}

func TestBackfill_OpenErrorReturned(t *testing.T) {
	backend := &fakeBackend{openErr: fmt.Errorf("index missing")}
	sink := &fakeSink{}
	bf := newTestBackfill(backend)

	err := bf.Run(context.Background(), KindDelta, "deltas", search.Query{}, nil, sink)
	require.Error(t, err)
	assert.Empty(t, sink.batches)
}

func TestBackfill_ScrollErrorReturned(t *testing.T) {
	backend := &fakeBackend{hits: makeRecords(30), scrollErr: fmt.Errorf("cursor lost")}
	sink := &fakeSink{}
	bf := newTestBackfill(backend)

	err := bf.Run(context.Background(), KindDelta, "deltas", search.Query{}, nil, sink)
	require.Error(t, err)
	assert.Len(t, sink.batches, 1, "first page was delivered before the failure")
}
