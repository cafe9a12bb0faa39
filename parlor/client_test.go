package parlor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/halvorsen/parlor/config"
	"github.com/halvorsen/parlor/cryptocap"
	"github.com/halvorsen/parlor/identity"
	"github.com/halvorsen/parlor/media"
	"github.com/halvorsen/parlor/pubsub"
	"github.com/halvorsen/parlor/registry"
	"github.com/halvorsen/parlor/session"
	"github.com/halvorsen/parlor/storage"
	"github.com/halvorsen/parlor/transport"
	"github.com/halvorsen/parlor/trust"
	"github.com/halvorsen/parlor/wire"
)

func wireConnectEnvelope(sender string) wire.Envelope {
	return wire.New(sender, wire.SubtopicConnect, wire.ConnectData{UserInfo: map[string]any{"displayName": sender}})
}

type fakeTransport struct {
	mu        sync.Mutex
	published []struct{ topic string }
	subs      map[string][]chan pubsub.Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: make(map[string][]chan pubsub.Message)}
}

func (f *fakeTransport) Publish(ctx context.Context, topic string, data []byte) error {
	f.mu.Lock()
	f.published = append(f.published, struct{ topic string }{topic})
	subs := append([]chan pubsub.Message(nil), f.subs[topic]...)
	f.mu.Unlock()
	for _, ch := range subs {
		ch <- pubsub.Message{Data: data}
	}
	return nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, topic string) (<-chan pubsub.Message, error) {
	ch := make(chan pubsub.Message, 8)
	f.mu.Lock()
	f.subs[topic] = append(f.subs[topic], ch)
	f.mu.Unlock()
	return ch, nil
}

func (f *fakeTransport) Close() error { return nil }

type fakeFactory struct{}

func (fakeFactory) NewConnection(cfg transport.Config) (transport.Connection, error) {
	a, _ := transport.FakePair()
	return a, nil
}

var _ transport.Factory = fakeFactory{}
var _ pubsub.Transport = (*fakeTransport)(nil)

type stubSink struct {
	mu               sync.Mutex
	validated        []string
	validationFailed []string
	prompted         []string
	promptAnswer     bool
}

func (s *stubSink) OnPeerConnected(name string)                {}
func (s *stubSink) OnPeerDisconnected(name string, reason error) {}
func (s *stubSink) OnChat(fromName, text string)                {}
func (s *stubSink) OnDM(fromName, text string)                  {}
func (s *stubSink) OnQuestion(fromName, topic string, body any) (any, error) { return nil, nil }
func (s *stubSink) OnIncomingCall(fromName string, info media.StreamInfo) media.IncomingCallResolution {
	return media.IncomingCallResolution{Accept: false}
}
func (s *stubSink) OnValidated(name string) {
	s.mu.Lock()
	s.validated = append(s.validated, name)
	s.mu.Unlock()
}
func (s *stubSink) OnValidationFailed(name string, reason error) {
	s.mu.Lock()
	s.validationFailed = append(s.validationFailed, name)
	s.mu.Unlock()
}
func (s *stubSink) OnTrustPrompt(name string, category trust.Category, decision trust.Decision) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompted = append(s.prompted, name)
	return s.promptAnswer
}

var _ EventSink = (*stubSink)(nil)

func newTestClient(t *testing.T, mapping trust.Mapping, selfName string) (*Client, *stubSink) {
	t.Helper()
	cfg := config.Default()
	cfg.Room.Topic = "test.room.v1"

	store := identity.New(cryptocap.RSAProvider{}, storage.NewMemStore())
	if err := store.LoadOrGenerate(); err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	policy, err := trust.NewPolicy(mapping)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	sink := &stubSink{}
	c := New(cfg, store, policy, registry.New(), fakeFactory{}, newFakeTransport(), nil, sink, selfName, "t1")
	if err := c.Join(); err != nil {
		t.Fatalf("Join: %v", err)
	}
	t.Cleanup(c.Leave)
	return c, sink
}

func TestMaybeOfferRejectedByTrustPolicySkipsSessionCreation(t *testing.T) {
	c, _ := newTestClient(t, trust.PresetRejectAll, "alice")
	c.doSync(func() { c.maybeOffer("bob") })
	if _, ok := c.sessionFor("bob"); ok {
		t.Fatal("expected no session to be created when trust policy rejects the peer")
	}
}

func TestMaybeOfferAdmittedStartsOffering(t *testing.T) {
	c, _ := newTestClient(t, trust.PresetLax, "alice")
	c.doSync(func() { c.maybeOffer("bob") })
	sess, ok := c.sessionFor("bob")
	if !ok {
		t.Fatal("expected a session to be created")
	}
	if sess.State() != session.StateOffering {
		t.Fatalf("state = %s, want offering", sess.State())
	}
}

func TestMaybeOfferIsIdempotent(t *testing.T) {
	c, _ := newTestClient(t, trust.PresetLax, "alice")
	c.doSync(func() {
		c.maybeOffer("bob")
		c.maybeOffer("bob")
	})
	// no panic / overwrite — still exactly one session tracked
	if _, ok := c.sessionFor("bob"); !ok {
		t.Fatal("expected session to exist")
	}
}

func TestMaybeOfferPromptThenTrustAsksEmbedderBeforeConnecting(t *testing.T) {
	c, sink := newTestClient(t, trust.PresetAlwaysPrompt, "alice")
	sink.promptAnswer = true
	c.doSync(func() { c.maybeOffer("bob") })
	if _, ok := c.sessionFor("bob"); !ok {
		t.Fatal("expected a session once the embedder approves the prompt")
	}
	if len(sink.prompted) != 1 || sink.prompted[0] != "bob" {
		t.Fatalf("prompted = %v, want exactly one prompt for bob", sink.prompted)
	}
}

func TestMaybeOfferPromptThenTrustRejectedSkipsSessionCreation(t *testing.T) {
	c, sink := newTestClient(t, trust.PresetAlwaysPrompt, "alice")
	sink.promptAnswer = false
	c.doSync(func() { c.maybeOffer("bob") })
	if _, ok := c.sessionFor("bob"); ok {
		t.Fatal("expected no session when the embedder rejects the prompt")
	}
	if len(sink.prompted) != 1 {
		t.Fatalf("expected exactly one prompt, got %v", sink.prompted)
	}
}

func TestSendDMFailsForUnknownPeer(t *testing.T) {
	c, _ := newTestClient(t, trust.PresetLax, "alice")
	if err := c.SendDM("nobody", "hi"); err == nil {
		t.Fatal("expected error sending DM to unknown peer")
	}
}

func TestAskFailsForUnknownPeer(t *testing.T) {
	c, _ := newTestClient(t, trust.PresetLax, "alice")
	if _, err := c.Ask("nobody", "ping", nil); err == nil {
		t.Fatal("expected error asking unknown peer")
	}
}

func TestChangeNamePublishesAndUpdatesSelfName(t *testing.T) {
	c, _ := newTestClient(t, trust.PresetLax, "alice")
	if err := c.ChangeName("alicia"); err != nil {
		t.Fatalf("ChangeName: %v", err)
	}
	if got := c.SelfName(); got != "alicia" {
		t.Fatalf("SelfName = %q, want alicia", got)
	}
}

func TestAnswerQuestionHandlesIdentifyLocally(t *testing.T) {
	c, _ := newTestClient(t, trust.PresetLax, "alice")
	handler := c.answerQuestion("bob")
	challenge := []byte("abc123-challenge-bytes")
	result, err := handler(session.TopicIdentify, identifyRequest{Challenge: challenge})
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	resp, ok := result.(identifyResponse)
	if !ok {
		t.Fatalf("unexpected result type %#v", result)
	}
	if !c.identity.Verify(resp.PublicKey, resp.Signature, challenge) {
		t.Fatal("signature did not verify against the client's own public key")
	}
}

func TestHandleConnectEnvelopeObservesPeerAndOffers(t *testing.T) {
	c, _ := newTestClient(t, trust.PresetLax, "alice")

	// Drive handleConnect directly: this is how an inbound announce from
	// "bob" reaches the reconciliation loop.
	c.doSync(func() {
		c.handleConnect(wireConnectEnvelope("bob"))
	})
	if _, ok := c.registry.Get("bob"); !ok {
		t.Fatal("expected bob to be recorded in the registry")
	}
	if _, ok := c.sessionFor("bob"); !ok {
		t.Fatal("expected a session toward bob to have been started")
	}
}

func TestPendingCandidateBufferOverwritesOnSecondArrival(t *testing.T) {
	c, _ := newTestClient(t, trust.PresetLax, "alice")
	first := transport.Candidate{Candidate: "candidate:1 1 udp 1 1.2.3.4 1 typ host"}
	second := transport.Candidate{Candidate: "candidate:2 1 udp 1 5.6.7.8 2 typ host"}

	c.setPendingCandidate("bob", first)
	c.setPendingCandidate("bob", second)

	got, ok := c.takePendingCandidate("bob")
	if !ok {
		t.Fatal("expected a buffered candidate for bob")
	}
	if got != second {
		t.Fatalf("candidate = %+v, want the second arrival %+v overwriting the first", got, second)
	}
	if _, ok := c.takePendingCandidate("bob"); ok {
		t.Fatal("expected the buffer to be drained after one take")
	}
}

func TestHistoryRecordsJoinAndReject(t *testing.T) {
	c, _ := newTestClient(t, trust.PresetRejectAll, "alice")
	c.doSync(func() { c.maybeOffer("bob") })

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		entries := c.History()
		if len(entries) >= 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	entries := c.History()
	if len(entries) == 0 {
		t.Fatal("expected at least one history entry")
	}
	kinds := make(map[string]bool)
	for _, e := range entries {
		kinds[e.Kind] = true
	}
	if !kinds["join"] || !kinds["reject"] {
		t.Fatalf("history kinds = %v, want both join and reject", kinds)
	}
}
