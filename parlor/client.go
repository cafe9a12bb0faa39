// Package parlor assembles every collaborating capability — pub/sub
// discovery, per-peer sessions, media sub-sessions, identity/trust — into
// CoreClient: a single-threaded reconciliation loop that is the engine's
// one embeddable entry point. Grounded on the teacher's internal/app/run.go
// (construct-then-loop orchestration, heartbeat/prune tickers, graceful
// shutdown) generalized from goop2's many concrete managers to the narrow
// capability interfaces this module exports.
package parlor

import (
	"context"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/halvorsen/parlor/config"
	"github.com/halvorsen/parlor/identity"
	"github.com/halvorsen/parlor/internal/ringbuf"
	"github.com/halvorsen/parlor/media"
	"github.com/halvorsen/parlor/pubsub"
	"github.com/halvorsen/parlor/registry"
	"github.com/halvorsen/parlor/session"
	"github.com/halvorsen/parlor/transport"
	"github.com/halvorsen/parlor/trust"
	"github.com/halvorsen/parlor/wire"
)

var log = logging.Logger("parlor")

// historyCapacity bounds the diagnostic ring buffer every Client keeps.
const historyCapacity = 200

// sessionSweepInterval governs how often CheckTimeout runs across every
// live session (spec.md §4.4's Δ-timeout sweep).
const sessionSweepInterval = 2 * time.Second

// registryPruneInterval and registryPruneAge bound how long a KnownPeer
// entry survives without a fresh announce.
const (
	registryPruneInterval = 30 * time.Second
	registryPruneAge      = 2 * time.Minute
)

// HistoryEntry is one bounded diagnostic record a Client keeps for its
// embedder to inspect (e.g. for a debug/activity view).
type HistoryEntry struct {
	At     time.Time
	Kind   string
	Detail string
}

// EventSink receives every event CoreClient cannot resolve on its own and
// dispatches to the embedder. Methods are called from the loop goroutine,
// from transport callback goroutines, and from each session's validation
// goroutine, so they may run concurrently with one another.
type EventSink interface {
	OnPeerConnected(name string)
	OnPeerDisconnected(name string, reason error)
	OnChat(fromName, text string)
	OnDM(fromName, text string)
	OnQuestion(fromName, topic string, body any) (any, error)
	OnIncomingCall(fromName string, info media.StreamInfo) media.IncomingCallResolution
	OnValidated(name string)
	OnValidationFailed(name string, reason error)
	// OnTrustPrompt is the synchronous admission gate for the two trust
	// decisions that name an embedder prompt (spec.md §4.3):
	// prompt_then_trust calls it before any direct connection is attempted;
	// connect_then_prompt calls it once the channel-open barrier clears but
	// before identity admission completes. For prompt_then_trust it runs on
	// the reconciliation loop and blocks it until the embedder answers; for
	// connect_then_prompt it runs on that session's validation goroutine.
	// It returns true to admit the peer.
	OnTrustPrompt(name string, category trust.Category, decision trust.Decision) bool
}

// Client is CoreClient: the reconciliation loop that owns every
// per-room-membership PeerSession, routes signaling envelopes to them, runs
// the identity/trust admission sequence, and serializes every embedder API
// call onto its own loop goroutine.
type Client struct {
	cfg      config.Config
	identity *identity.Store
	trust    *trust.Policy
	registry *registry.Registry
	factory  transport.Factory
	sink     EventSink
	selfName string
	tabID    string

	pubsubClient *pubsub.Client
	announcer    *pubsub.Announcer

	mu                sync.Mutex
	sessions          map[string]*session.PeerSession
	mediaSubs         map[string]*media.Sub
	pendingCandidates map[string]transport.Candidate

	history *ringbuf.RingBuffer[HistoryEntry]

	cmdCh  chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Client. Call Join to start the reconciliation loop and
// begin announcing.
func New(
	cfg config.Config,
	ids *identity.Store,
	policy *trust.Policy,
	reg *registry.Registry,
	factory transport.Factory,
	bus pubsub.Transport,
	codec wire.Codec,
	sink EventSink,
	selfName, tabID string,
) *Client {
	c := &Client{
		cfg:               cfg,
		identity:          ids,
		trust:             policy,
		registry:          reg,
		factory:           factory,
		sink:              sink,
		selfName:          selfName,
		tabID:             tabID,
		sessions:          make(map[string]*session.PeerSession),
		mediaSubs:         make(map[string]*media.Sub),
		pendingCandidates: make(map[string]transport.Candidate),
		history:           ringbuf.New[HistoryEntry](historyCapacity),
		cmdCh:             make(chan func(), 32),
	}
	c.pubsubClient = pubsub.New(bus, codec, cfg.Room.Topic, selfName)
	return c
}

func (c *Client) recordHistory(kind, detail string) {
	c.history.Push(HistoryEntry{At: time.Now(), Kind: kind, Detail: detail})
}

// History returns the most recent diagnostic entries, oldest first.
func (c *Client) History() []HistoryEntry { return c.history.Snapshot() }

// SelfName returns the locally chosen bare display name.
func (c *Client) SelfName() string {
	var name string
	c.doSync(func() { name = c.selfName })
	return name
}

func (c *Client) directConfig() transport.Config {
	cfg := transport.Config{TransportPolicy: "all", BundlePolicy: "balanced", MuxPolicy: "require"}
	for _, s := range c.cfg.Media.ICEServers {
		cfg.ICEServers = append(cfg.ICEServers, transport.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return cfg
}

func (c *Client) sessionFor(name string) (*session.PeerSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[name]
	return s, ok
}

func (c *Client) setSession(name string, s *session.PeerSession) {
	c.mu.Lock()
	c.sessions[name] = s
	c.mu.Unlock()
}

func (c *Client) removeSession(name string) {
	c.mu.Lock()
	delete(c.sessions, name)
	c.mu.Unlock()
}

func (c *Client) snapshotSessions() []*session.PeerSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*session.PeerSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out
}

func (c *Client) mediaSubFor(name string) (*media.Sub, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.mediaSubs[name]
	return m, ok
}

func (c *Client) setMediaSub(name string, m *media.Sub) {
	c.mu.Lock()
	c.mediaSubs[name] = m
	c.mu.Unlock()
}

func (c *Client) removeMediaSub(name string) {
	c.mu.Lock()
	delete(c.mediaSubs, name)
	c.mu.Unlock()
}

func (c *Client) takePendingCandidate(name string) (transport.Candidate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cand, ok := c.pendingCandidates[name]
	if ok {
		delete(c.pendingCandidates, name)
	}
	return cand, ok
}

// setPendingCandidate caps the buffer at one per sender, per spec.md §4.6 —
// a second candidate arriving before the session exists overwrites the
// first rather than growing unbounded.
func (c *Client) setPendingCandidate(name string, cand transport.Candidate) {
	c.mu.Lock()
	c.pendingCandidates[name] = cand
	c.mu.Unlock()
}
