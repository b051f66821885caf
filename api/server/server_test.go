package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	ws "github.com/antelayer/streamgate/api/websocket"
	"github.com/antelayer/streamgate/pkg/fanout"
	"github.com/antelayer/streamgate/pkg/relay"
	"github.com/antelayer/streamgate/pkg/stream"
)

func newHealthServer(t *testing.T) (*Server, *relay.Link) {
	t.Helper()
	logger := zap.NewNop()

	streamSrv := ws.NewServer(ws.Config{
		Chain: "test-chain",
		SessionFactory: func(sink stream.Sink) *stream.Session {
			return stream.NewSession(stream.SessionConfig{Sink: sink})
		},
		Logger: logger,
	})
	t.Cleanup(streamSrv.Stop)

	bus := fanout.NewLocalBus(logger)
	go bus.Run()
	t.Cleanup(bus.Stop)

	link := relay.NewLink("test-chain", streamSrv.Hub(), bus, logger, nil)

	return New(Config{
		Host:       "127.0.0.1",
		Port:       0,
		StreamPath: "/stream",
		Stream:     streamSrv,
		Link:       link,
		Logger:     logger,
	}), link
}

func TestHealth_OKWhenConnected(t *testing.T) {
	srv, _ := newHealthServer(t)

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest("GET", "/healthz", nil))

	require.Equal(t, 200, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "connected", body["relay"])
	assert.Equal(t, float64(0), body["clients"])
}

// refusingDialer never connects, driving the link down via its supervisor
type refusingDialer struct{}

func (refusingDialer) Dial(ctx context.Context) (relay.Conn, error) {
	return nil, errors.New("connection refused")
}

func TestHealth_DegradedWhenRelayDown(t *testing.T) {
	srv, link := newHealthServer(t)

	sup := relay.NewSupervisor(link, refusingDialer{}, time.Millisecond, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	require.Eventually(t, func() bool {
		return link.State() == relay.StateDown
	}, time.Second, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest("GET", "/healthz", nil))

	require.Equal(t, 503, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "down", body["relay"])
}
