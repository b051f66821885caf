package stream

import (
	"context"
	"fmt"

	"github.com/antelayer/streamgate/pkg/search"
)

// HeadSource resolves the current chain head block number
type HeadSource interface {
	HeadBlock(ctx context.Context) (uint64, error)
}

// headCache memoizes a single head lookup across both bounds of a request
type headCache struct {
	src     HeadSource
	head    uint64
	fetched bool
}

func (h *headCache) get(ctx context.Context) (uint64, error) {
	if !h.fetched {
		head, err := h.src.HeadBlock(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to resolve chain head: %w", err)
		}
		h.head = head
		h.fetched = true
	}
	return h.head, nil
}

// ResolveRange normalizes a request's start/end bounds into query clauses.
// A timestamp bound contributes to a time-range predicate and a block
// bound to a block-number predicate; mixing types across the two bounds
// emits both predicates ANDed. Negative block bounds resolve against the
// current head, fetched lazily at most once for the whole request.
func ResolveRange(ctx context.Context, start, end Bound, src HeadSource) ([]search.Clause, error) {
	head := &headCache{src: src}

	var (
		timeRange  search.TimeRange
		blockRange search.NumRange
	)
	timeRange.Field = FieldTimestamp
	blockRange.Field = FieldBlockNum

	if !start.Unbounded() {
		if start.IsBlock {
			n, err := resolveBlock(ctx, start.Block, head)
			if err != nil {
				return nil, err
			}
			blockRange.GTE = &n
		} else {
			timeRange.GTE = start.Timestamp
		}
	}

	if !end.Unbounded() {
		if end.IsBlock {
			n, err := resolveBlock(ctx, end.Block, head)
			if err != nil {
				return nil, err
			}
			blockRange.LTE = &n
		} else {
			timeRange.LTE = end.Timestamp
		}
	}

	var clauses []search.Clause
	if timeRange.GTE != "" || timeRange.LTE != "" {
		clauses = append(clauses, timeRange)
	}
	if blockRange.GTE != nil || blockRange.LTE != nil {
		clauses = append(clauses, blockRange)
	}

	return clauses, nil
}

// resolveBlock turns a bound's block value into an absolute block number
func resolveBlock(ctx context.Context, block int64, head *headCache) (uint64, error) {
	if block >= 0 {
		return uint64(block), nil
	}

	h, err := head.get(ctx)
	if err != nil {
		return 0, err
	}

	resolved := int64(h) + block
	if resolved < 0 {
		resolved = 0
	}
	return uint64(resolved), nil
}
