package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDialer serves a scripted sequence of connections and failures
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	errs  []error
	dials int
}

func (f *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.dials
	f.dials++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.conns) {
		return f.conns[i], nil
	}
	return nil, errors.New("exhausted")
}

func (f *fakeDialer) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func TestSupervisor_ReconnectsAfterConnectionLoss(t *testing.T) {
	notifier := &fakeNotifier{}
	link := newTestLink(notifier, &fakeBus{})

	first := newFakeConn()
	second := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}

	sup := NewSupervisor(link, dialer, time.Millisecond, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	// first connection drops
	require.Eventually(t, func() bool {
		return dialer.dialCount() >= 1
	}, time.Second, 5*time.Millisecond)
	first.Close()

	// the supervisor redials and the link recovers
	require.Eventually(t, func() bool {
		return dialer.dialCount() >= 2 && link.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{StatusRelayDown, StatusRelayRestored}, notifier.all())
}

func TestSupervisor_RepeatedDialFailuresBroadcastOnce(t *testing.T) {
	notifier := &fakeNotifier{}
	link := newTestLink(notifier, &fakeBus{})

	dialer := &fakeDialer{errs: []error{
		errors.New("refused"),
		errors.New("refused"),
		errors.New("refused"),
	}}

	sup := NewSupervisor(link, dialer, time.Millisecond, 2*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	require.Eventually(t, func() bool {
		return dialer.dialCount() >= 3
	}, time.Second, 5*time.Millisecond)
	cancel()

	assert.Equal(t, StateDown, link.State())
	assert.Equal(t, []string{StatusRelayDown}, notifier.all())
}

func TestSupervisor_FeedsEventsIntoLink(t *testing.T) {
	bus := &fakeBus{}
	link := newTestLink(&fakeNotifier{}, bus)

	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}

	sup := NewSupervisor(link, dialer, time.Millisecond, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	require.Eventually(t, func() bool {
		return dialer.dialCount() >= 1
	}, time.Second, 5*time.Millisecond)

	conn.reads <- &Event{Type: EventTypeDelta, Client: "client-1"}

	require.Eventually(t, func() bool {
		return len(bus.all()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "client-1", bus.all()[0].Target)
}

func TestSupervisor_StopsOnContextCancel(t *testing.T) {
	link := newTestLink(&fakeNotifier{}, &fakeBus{})
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}

	sup := NewSupervisor(link, dialer, time.Millisecond, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return dialer.dialCount() >= 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop on cancel")
	}
}
