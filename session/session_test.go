package session

import (
	"errors"
	"testing"
	"time"

	"github.com/halvorsen/parlor/transport"
)

type recordingSink struct {
	chats     []string
	dms       []string
	connected []string
	closed    []string
}

func (r *recordingSink) OnChat(remoteName, text string) { r.chats = append(r.chats, remoteName+":"+text) }
func (r *recordingSink) OnDM(remoteName, text string)   { r.dms = append(r.dms, remoteName+":"+text) }
func (r *recordingSink) OnConnected(remoteName string)  { r.connected = append(r.connected, remoteName) }
func (r *recordingSink) OnClosed(remoteName string, reason error) {
	r.closed = append(r.closed, remoteName)
}

func echoHandler(topic string, body any) (any, error) {
	if topic == "boom" {
		return nil, errors.New("no")
	}
	return body, nil
}

func newConnectedPair(t *testing.T) (*PeerSession, *PeerSession, *recordingSink, *recordingSink) {
	t.Helper()
	connA, connB := transport.FakePair()
	sinkA := &recordingSink{}
	sinkB := &recordingSink{}
	a := New("alice", "t1", "bob", connA, sinkA, echoHandler)
	b := New("bob", "t1", "alice", connB, sinkB, echoHandler)

	if _, err := a.StartOffering(); err != nil {
		t.Fatalf("StartOffering: %v", err)
	}
	if _, _, err := b.HandleRemoteOffer("fake-offer", "alice", "t1"); err != nil {
		t.Fatalf("HandleRemoteOffer: %v", err)
	}
	if err := a.HandleRemoteAnswer("fake-answer"); err != nil {
		t.Fatalf("HandleRemoteAnswer: %v", err)
	}
	transport.SimulateConnected(connA, connB)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if a.State() == StateConnected && b.State() == StateConnected {
			break
		}
		time.Sleep(time.Millisecond)
	}
	a.MarkValidated()
	b.MarkValidated()
	return a, b, sinkA, sinkB
}

func TestChannelOpenBarrierReachesConnected(t *testing.T) {
	a, b, _, _ := newConnectedPair(t)
	if a.State() != StateConnected {
		t.Fatalf("a state = %s, want connected", a.State())
	}
	if b.State() != StateConnected {
		t.Fatalf("b state = %s, want connected", b.State())
	}
}

func TestGlareResolutionLowerNameWins(t *testing.T) {
	connA, connB := transport.FakePair()
	a := New("alice", "t1", "bob", connA, &recordingSink{}, echoHandler)
	b := New("bob", "t1", "alice", connB, &recordingSink{}, echoHandler)

	if _, err := a.StartOffering(); err != nil {
		t.Fatalf("a offer: %v", err)
	}
	if _, err := b.StartOffering(); err != nil {
		t.Fatalf("b offer: %v", err)
	}

	// bob (remote, larger name) receives alice's offer while already
	// offering itself: bob should recognize it loses glare since "alice" <
	// "bob", and accept alice's offer as answerer.
	_, bobLost, err := b.HandleRemoteOffer("fake-offer", "alice", "t1")
	if err != nil {
		t.Fatalf("b handle remote offer: %v", err)
	}
	if !bobLost {
		t.Fatalf("expected bob to lose glare to alice")
	}
	if b.State() != StateAnswering {
		t.Fatalf("bob state = %s, want answering", b.State())
	}

	// alice (smaller name) receives bob's offer while already offering:
	// alice should win and keep offering.
	_, aliceLost, err := a.HandleRemoteOffer("fake-offer", "bob", "t1")
	if err != nil {
		t.Fatalf("a handle remote offer: %v", err)
	}
	if aliceLost {
		t.Fatalf("expected alice to win glare against bob")
	}
	if a.State() != StateOffering {
		t.Fatalf("alice state = %s, want still offering", a.State())
	}
}

func TestAskReceivesAnswer(t *testing.T) {
	a, b, _, _ := newConnectedPair(t)
	_ = b
	r, err := a.Ask("echo", map[string]any{"n": float64(1)})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	result, err := r.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok || m["n"] != float64(1) {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestAskResponderErrorPropagates(t *testing.T) {
	a, _, _, _ := newConnectedPair(t)
	r, err := a.Ask("boom", nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if _, err := r.Wait(); err == nil {
		t.Fatalf("expected responder error")
	}
}

func TestUnvalidatedSessionDropsChatButAllowsQuestion(t *testing.T) {
	connA, connB := transport.FakePair()
	sinkA := &recordingSink{}
	sinkB := &recordingSink{}
	a := New("alice", "t1", "bob", connA, sinkA, echoHandler)
	b := New("bob", "t1", "alice", connB, sinkB, echoHandler)
	if _, err := a.StartOffering(); err != nil {
		t.Fatal(err)
	}
	if _, _, err := b.HandleRemoteOffer("fake-offer", "alice", "t1"); err != nil {
		t.Fatal(err)
	}
	if err := a.HandleRemoteAnswer("fake-answer"); err != nil {
		t.Fatal(err)
	}
	transport.SimulateConnected(connA, connB)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && (a.State() != StateConnected || b.State() != StateConnected) {
		time.Sleep(time.Millisecond)
	}
	// Neither side validated yet.
	if err := a.SendChat("hello"); err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if len(sinkB.chats) != 0 {
		t.Fatalf("expected chat dropped pre-validation, got %v", sinkB.chats)
	}

	r, err := a.Ask("identify", "alice")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if _, err := r.Wait(); err != nil {
		t.Fatalf("identify should succeed pre-validation: %v", err)
	}
}

func TestCheckTimeoutClosesOnStalledTransportState(t *testing.T) {
	connA, _ := transport.FakePair()
	sinkA := &recordingSink{}
	a := New("alice", "t1", "bob", connA, sinkA, echoHandler)
	if _, err := a.StartOffering(); err != nil {
		t.Fatalf("StartOffering: %v", err)
	}

	a.mu.Lock()
	a.connState = transport.StateChecking
	a.connStateSince = time.Now().Add(-(transportStallTimeout(transport.StateChecking) + time.Second))
	a.mu.Unlock()

	a.CheckTimeout()

	if a.State() != StateClosed {
		t.Fatalf("state = %s, want closed after a stalled direct connection", a.State())
	}
	if len(sinkA.closed) != 1 {
		t.Fatalf("OnClosed called %d times, want 1", len(sinkA.closed))
	}
}

func TestCloseIsIdempotentAndFailsOutstandingRequests(t *testing.T) {
	a, _, sinkA, sinkB := newConnectedPair(t)
	r, err := a.Ask("echo", "x")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	a.Close(errors.New("shutting down"))
	a.Close(errors.New("shutting down again"))

	if _, err := r.Wait(); err == nil {
		t.Fatalf("expected outstanding request to fail on close")
	}
	if len(sinkA.closed) != 1 {
		t.Fatalf("OnClosed called %d times, want 1", len(sinkA.closed))
	}
	_ = sinkB
	if a.State() != StateClosed {
		t.Fatalf("state = %s, want closed", a.State())
	}
}
