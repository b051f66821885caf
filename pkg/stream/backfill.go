package stream

import (
	"context"
	"time"

	"github.com/antelayer/streamgate/internal/constants"
	"github.com/antelayer/streamgate/pkg/search"
	"go.uber.org/zap"
)

// Backfill executes bounded, cursor-paginated historical scans against
// the search backend and streams matching records to a client sink
type Backfill struct {
	backend   search.Backend
	pageSize  int
	keepAlive time.Duration
	maxTotal  int
	logger    *zap.Logger
	metrics   *Metrics
}

// NewBackfill creates a backfill engine over the given backend
func NewBackfill(backend search.Backend, logger *zap.Logger, metrics *Metrics) *Backfill {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backfill{
		backend:   backend,
		pageSize:  constants.BackfillPageSize,
		keepAlive: constants.CursorKeepAlive,
		maxTotal:  constants.MaxBackfillTotal,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run streams every record matching the query to the sink, in ascending
// sort order, batched per cursor page and tagged mode=history, then
// returns. A first-page total above the guard limit aborts the scan with
// a single empty batch. The client becoming unreachable mid-scan is a
// normal termination; backend failures are returned to the caller.
func (b *Backfill) Run(ctx context.Context, kind Kind, index string, query search.Query, onDemand []FieldFilter, sink Sink) error {
	start := time.Now()

	page, err := b.backend.Open(ctx, search.Request{
		Index:     index,
		Query:     query,
		Sort:      search.Sort{Field: kind.SortField(), Ascending: true},
		PageSize:  b.pageSize,
		KeepAlive: b.keepAlive,
	})
	if err != nil {
		if b.metrics != nil {
			b.metrics.BackfillErrorsTotal.WithLabelValues(string(kind)).Inc()
		}
		return err
	}

	cursor := page.Cursor
	defer func() {
		if cursor == "" {
			return
		}
		// the scan context may already be canceled; release the cursor
		// on a fresh one
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.backend.ClearCursor(cctx, cursor); err != nil {
			b.logger.Debug("failed to clear cursor", zap.Error(err))
		}
	}()

	if page.Total > b.maxTotal {
		b.logger.Warn("rejecting oversized historical query",
			zap.String("kind", string(kind)),
			zap.Int("total", page.Total),
			zap.Int("limit", b.maxTotal),
			zap.String("client_id", sink.ID()))
		if b.metrics != nil {
			b.metrics.BackfillRejectionsTotal.WithLabelValues(string(kind)).Inc()
		}
		if sink.Connected() {
			_ = sink.Send(&Envelope{
				Type:     kind.MessageType(),
				Mode:     ModeHistory,
				Messages: []search.Record{},
			})
		}
		return nil
	}

	total := page.Total
	retrieved := 0
	delivered := 0

	for {
		retrieved += len(page.Hits)

		survivors := page.Hits
		if len(onDemand) > 0 {
			survivors = make([]search.Record, 0, len(page.Hits))
			for _, rec := range page.Hits {
				if MatchOnDemand(rec, onDemand) {
					survivors = append(survivors, rec)
				}
			}
		}

		if len(survivors) > 0 {
			if !sink.Connected() {
				b.logger.Info("client gone mid-backfill",
					zap.String("client_id", sink.ID()),
					zap.Int("retrieved", retrieved))
				return nil
			}
			if err := sink.Send(&Envelope{
				Type:     kind.MessageType(),
				Mode:     ModeHistory,
				Messages: survivors,
			}); err != nil {
				b.logger.Info("client send failed mid-backfill",
					zap.String("client_id", sink.ID()),
					zap.Error(err))
				return nil
			}
			delivered += len(survivors)
		}

		if b.metrics != nil {
			b.metrics.BackfillPagesTotal.WithLabelValues(string(kind)).Inc()
		}

		// running count detects true completion independent of cursor
		// semantics; an empty page covers totals shrinking mid-scan
		if retrieved >= total || len(page.Hits) == 0 || page.Cursor == "" {
			break
		}

		if !sink.Connected() {
			b.logger.Info("client gone mid-backfill",
				zap.String("client_id", sink.ID()),
				zap.Int("retrieved", retrieved))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err = b.backend.Scroll(ctx, cursor, b.keepAlive)
		if err != nil {
			if b.metrics != nil {
				b.metrics.BackfillErrorsTotal.WithLabelValues(string(kind)).Inc()
			}
			return err
		}
		cursor = page.Cursor
	}

	if b.metrics != nil {
		b.metrics.BackfillRecordsTotal.WithLabelValues(string(kind)).Add(float64(delivered))
		b.metrics.BackfillDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	}

	b.logger.Debug("backfill complete",
		zap.String("kind", string(kind)),
		zap.String("client_id", sink.ID()),
		zap.Int("retrieved", retrieved),
		zap.Int("delivered", delivered))

	return nil
}
