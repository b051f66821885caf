package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/antelayer/streamgate/pkg/search"
	"go.uber.org/zap"
)

// ErrSuperseded is returned when a newer request of the same stream kind
// arrived while this one was still backfilling; the newer request owns
// the live registration
var ErrSuperseded = errors.New("subscription superseded by a newer request")

// ErrClientGone is returned when the client disconnected before the
// subscription could be registered for live forwarding
var ErrClientGone = errors.New("client disconnected")

// Registrar registers a client's subscription with the live relay link
// The returned payload is the relay's acknowledgement, or the
// STREAMING_OFFLINE sentinel when the link is down
type Registrar interface {
	Register(ctx context.Context, clientID string, kind Kind, req interface{}) (json.RawMessage, error)
}

// Session coordinates one client's subscriptions: it runs the historical
// backfill for a request, then hands the client off to live forwarding
// by registering the subscription with the relay link. At most one delta
// and one action subscription are active per connection; a newer request
// of the same kind supersedes the prior registration.
type Session struct {
	chain       string
	sink        Sink
	head        HeadSource
	backfill    *Backfill
	registrar   Registrar
	deltaIndex  string
	actionIndex string
	logger      *zap.Logger
	metrics     *Metrics

	states map[Kind]*kindState
}

// kindState serializes same-kind requests so a superseded backfill never
// clobbers the live registration of the request that replaced it
type kindState struct {
	mu  sync.Mutex
	gen uint64
}

// SessionConfig holds the collaborators a session needs
type SessionConfig struct {
	Chain       string
	Sink        Sink
	Head        HeadSource
	Backfill    *Backfill
	Registrar   Registrar
	DeltaIndex  string
	ActionIndex string
	Logger      *zap.Logger
	Metrics     *Metrics
}

// NewSession creates a session for one client connection
func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		chain:       cfg.Chain,
		sink:        cfg.Sink,
		head:        cfg.Head,
		backfill:    cfg.Backfill,
		registrar:   cfg.Registrar,
		deltaIndex:  cfg.DeltaIndex,
		actionIndex: cfg.ActionIndex,
		logger:      logger,
		metrics:     cfg.Metrics,
		states: map[Kind]*kindState{
			KindDelta:  {},
			KindAction: {},
		},
	}
}

// HandleDelta processes a delta subscription request
func (s *Session) HandleDelta(ctx context.Context, req *DeltaRequest) (json.RawMessage, error) {
	compiled := CompileDelta(req)
	return s.handle(ctx, KindDelta, s.deltaIndex, compiled, req.StartFrom, req.ReadUntil, req.HasHistory(), req)
}

// HandleAction processes an action subscription request
func (s *Session) HandleAction(ctx context.Context, req *ActionRequest) (json.RawMessage, error) {
	compiled := CompileAction(req)
	return s.handle(ctx, KindAction, s.actionIndex, compiled, req.StartFrom, req.ReadUntil, req.HasHistory(), req)
}

func (s *Session) handle(ctx context.Context, kind Kind, index string, compiled Compiled, start, end Bound, history bool, req interface{}) (json.RawMessage, error) {
	st := s.states[kind]

	st.mu.Lock()
	st.gen++
	gen := st.gen
	st.mu.Unlock()

	if history {
		rangeClauses, err := ResolveRange(ctx, start, end, s.head)
		if err != nil {
			return nil, err
		}

		query := search.Query{Must: append(compiled.Clauses, rangeClauses...)}
		if err := s.backfill.Run(ctx, kind, index, query, compiled.OnDemand, s.sink); err != nil {
			// contained per subscription: the scan stops, the live
			// registration still proceeds
			s.logger.Error("backfill failed",
				zap.String("kind", string(kind)),
				zap.String("client_id", s.sink.ID()),
				zap.Error(err))
		}
	}

	if !s.sink.Connected() {
		return nil, ErrClientGone
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gen != gen {
		return nil, ErrSuperseded
	}

	ack, err := s.registrar.Register(ctx, s.sink.ID(), kind, req)
	if s.metrics != nil {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case string(ack) == `"`+StreamingOffline+`"`:
			outcome = "offline"
		}
		s.metrics.RegistrationsTotal.WithLabelValues(string(kind), outcome).Inc()
	}
	return ack, err
}

// Chain returns the chain identifier announced to this session's client
func (s *Session) Chain() string {
	return s.chain
}
