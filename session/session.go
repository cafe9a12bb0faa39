// Package session implements PeerSession: the per-remote-peer state
// machine, its multiplexed reliable channels, and the question/answer RPC.
// Grounded on the teacher's internal/call/session.go (signal handling, ICE
// buffering), internal/call/types.go (the narrow Signaler capability
// pattern this package's Sink mirrors), and internal/entangle/manager.go
// (ping/pong heartbeat channel, lexicographic dialer tie-break reused here
// for glare resolution).
package session

import (
	"encoding/json"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/halvorsen/parlor/parlorerr"
	"github.com/halvorsen/parlor/transport"
)

var log = logging.Logger("parlor/session")

// identify/challenge are the two RPC topics accepted on an unvalidated
// session (spec.md §4.4's per-frame verification gate).
const (
	TopicIdentify  = "identify"
	TopicChallenge = "challenge"
)

// QuestionHandler answers an inbound "question" frame addressed to topic
// with body, returning the result to send back on "answer", or an error.
type QuestionHandler func(topic string, body any) (any, error)

// Sink receives events a PeerSession cannot resolve on its own — CoreClient
// implements this to dispatch chat/dm frames and session-closed
// notifications to the embedder.
type Sink interface {
	OnChat(remoteName string, text string)
	OnDM(remoteName string, text string)
	OnConnected(remoteName string)
	OnClosed(remoteName string, reason error)
}

// PeerSession is one per remote peer (spec.md §3). At most one instance
// exists per remote bare-name at any time; that invariant is enforced by
// the registry of sessions the owning CoreClient keeps, not by this type.
type PeerSession struct {
	localName  string
	localTabID string
	RemoteName string
	conn       transport.Connection
	sink       Sink
	questionH  QuestionHandler
	requests   *RequestTable

	mu         sync.Mutex
	state      State
	createdAt  time.Time
	stateSince time.Time
	validated  bool
	channels   map[Label]*Channel
	closeOnce  sync.Once

	connState      transport.ConnectionState
	connStateSince time.Time

	pendingCandidates []transport.Candidate
}

// New constructs a PeerSession in the idle state over an already-created
// transport.Connection. The session stays idle until StartOffering (caller
// side) or HandleRemoteOffer (answerer side) is called.
func New(localName, localTabID, remoteName string, conn transport.Connection, sink Sink, qh QuestionHandler) *PeerSession {
	s := &PeerSession{
		localName:      localName,
		localTabID:     localTabID,
		RemoteName:     remoteName,
		conn:           conn,
		sink:           sink,
		questionH:      qh,
		requests:       newRequestTable(),
		state:          StateIdle,
		createdAt:      time.Now(),
		stateSince:     time.Now(),
		channels:       make(map[Label]*Channel),
		connState:      transport.StateNew,
		connStateSince: time.Now(),
	}
	conn.OnDataChannel(func(dc transport.DataChannel) {
		s.adoptChannel(Label(dc.Label()), dc)
	})
	conn.OnConnectionStateChange(func(st transport.ConnectionState) {
		s.mu.Lock()
		s.connState = st
		s.connStateSince = time.Now()
		s.mu.Unlock()
		if st == transport.StateFailed || st == transport.StateClosed {
			s.Close(parlorerr.New(parlorerr.KindTransport, "direct connection "+string(st), nil))
		}
	})
	return s
}

// State returns the current lifecycle state.
func (s *PeerSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Validated reports whether the peer has proved possession of its
// advertised private key.
func (s *PeerSession) Validated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validated
}

// MarkValidated transitions validated false->true. Invariant (spec.md §8):
// it never returns from true to false without the session closing.
func (s *PeerSession) MarkValidated() {
	s.mu.Lock()
	s.validated = true
	s.mu.Unlock()
}

// setState transitions the session's state, stamping stateSince for
// timeout bookkeeping.
func (s *PeerSession) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.stateSince = time.Now()
	s.mu.Unlock()
}

// StartOffering begins the session as the offering side (spec.md §4.4:
// idle -> offering on local_announce_received), creating every required
// data channel.
func (s *PeerSession) StartOffering() (sdp string, err error) {
	s.setState(StateOffering)
	for _, label := range AllLabels {
		dc, err := s.conn.CreateDataChannel(string(label))
		if err != nil {
			return "", parlorerr.New(parlorerr.KindBadSdp, "create data channel "+string(label), err)
		}
		s.adoptChannel(label, dc)
	}
	offer, err := s.conn.CreateOffer()
	if err != nil {
		return "", parlorerr.New(parlorerr.KindBadSdp, "create offer", err)
	}
	return offer, nil
}

// HandleRemoteOffer applies a remote offer. If the session is idle this is
// a normal answerer transition; if the session is already offering, this
// is glare and is resolved by lexicographic bare-name comparison (ties
// broken on tab suffix), mirroring entangle.Manager's deterministic-dialer
// rule.
func (s *PeerSession) HandleRemoteOffer(remoteSDP, remoteName, remoteTabID string) (answerSDP string, isGlareLoser bool, err error) {
	s.mu.Lock()
	cur := s.state
	s.mu.Unlock()

	if cur == StateOffering {
		if s.winsGlare(remoteName, remoteTabID) {
			// We keep our offer; the remote side will detect it lost and
			// become answerer. Nothing to do on our end but wait.
			return "", false, nil
		}
		// We lose: discard our offer, become answerer.
		isGlareLoser = true
	}

	s.setState(StateAnswering)
	if err := s.conn.SetRemoteDescription(remoteSDP); err != nil {
		return "", isGlareLoser, parlorerr.New(parlorerr.KindBadSdp, "set remote offer", err)
	}
	answer, err := s.conn.CreateAnswer()
	if err != nil {
		return "", isGlareLoser, parlorerr.New(parlorerr.KindBadSdp, "create answer", err)
	}
	s.flushPendingCandidates()
	return answer, isGlareLoser, nil
}

// winsGlare reports whether the local identity wins glare resolution
// against a remote identity (spec.md §4.4: smaller bare-name wins; ties
// broken on tab suffix).
func (s *PeerSession) winsGlare(remoteName, remoteTabID string) bool {
	if s.localName != remoteName {
		return s.localName < remoteName
	}
	return s.localTabID < remoteTabID
}

// HandleRemoteAnswer applies a remote answer to our own earlier offer.
func (s *PeerSession) HandleRemoteAnswer(remoteSDP string) error {
	s.setState(StateNegotiating)
	if err := s.conn.SetRemoteDescription(remoteSDP); err != nil {
		return parlorerr.New(parlorerr.KindBadSdp, "set remote answer", err)
	}
	s.flushPendingCandidates()
	return nil
}

// HandleRemoteCandidate adds (or buffers, if the remote description isn't
// set yet) an ICE candidate for the underlying direct connection.
func (s *PeerSession) HandleRemoteCandidate(c transport.Candidate) error {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st == StateIdle || st == StateOffering {
		s.mu.Lock()
		s.pendingCandidates = append(s.pendingCandidates, c)
		s.mu.Unlock()
		return nil
	}
	return s.conn.AddICECandidate(c)
}

func (s *PeerSession) flushPendingCandidates() {
	s.mu.Lock()
	pending := s.pendingCandidates
	s.pendingCandidates = nil
	s.mu.Unlock()
	for _, c := range pending {
		if err := s.conn.AddICECandidate(c); err != nil {
			log.Warnw("flush buffered ICE candidate failed", "peer", s.RemoteName, "err", err)
		}
	}
}

// adoptChannel wires up a newly created or newly received data channel and
// advances the session toward connecting/connected once every required
// channel has opened.
func (s *PeerSession) adoptChannel(label Label, dc transport.DataChannel) {
	ch := newChannel(label, dc)
	s.mu.Lock()
	s.channels[label] = ch
	cur := s.state
	s.mu.Unlock()

	if cur == StateAnswering {
		s.setState(StateConnecting)
	}

	switch label {
	case LabelQuestion:
		ch.OnMessage(s.handleQuestionFrame)
	case LabelAnswer:
		ch.OnMessage(s.requests.Resolve)
	case LabelChat:
		ch.OnMessage(func(data []byte) {
			if !s.gate(label) {
				return
			}
			s.sink.OnChat(s.RemoteName, string(data))
		})
	case LabelDM:
		ch.OnMessage(func(data []byte) {
			if !s.gate(label) {
				return
			}
			s.sink.OnDM(s.RemoteName, string(data))
		})
	}

	// A DataChannel keeps a single open handler, so this one replaces the
	// handler newChannel registered and must mark the Channel open itself.
	dc.OnOpen(func() {
		ch.handleOpen()
		s.checkAllChannelsOpen()
	})
}

// gate implements the per-frame verification invariant: while unvalidated,
// every application-data label is logged and dropped. The
// question/answer channels are exempted at the channel level because their
// own topics (identify/challenge) are gated individually in
// handleQuestionFrame — an unvalidated peer may still ask to identify
// itself, but may not issue any other RPC.
func (s *PeerSession) gate(label Label) bool {
	if s.Validated() {
		return true
	}
	if label == LabelQuestion || label == LabelAnswer {
		return true
	}
	log.Warnw("dropping frame on unvalidated session", "peer", s.RemoteName, "label", label)
	return false
}

func (s *PeerSession) handleQuestionFrame(raw []byte) {
	var req requestFrame
	if err := json.Unmarshal(raw, &req); err != nil {
		log.Warnw("malformed question frame", "peer", s.RemoteName, "err", err)
		return
	}
	isIdentityTopic := req.Topic == TopicIdentify || req.Topic == TopicChallenge
	if !isIdentityTopic && !s.Validated() {
		log.Warnw("dropping non-identity question on unvalidated session", "peer", s.RemoteName, "topic", req.Topic)
		return
	}
	go func() {
		result, err := s.questionH(req.Topic, req.Body)
		resp := responseFrame{ID: req.ID}
		if err != nil {
			resp.IsError = true
			resp.Error = err.Error()
		} else {
			resp.Result = result
		}
		b, merr := json.Marshal(resp)
		if merr != nil {
			log.Warnw("marshal response frame failed", "err", merr)
			return
		}
		if ch := s.channel(LabelAnswer); ch != nil {
			if err := ch.Send(b); err != nil {
				log.Warnw("send response frame failed", "peer", s.RemoteName, "err", err)
			}
		}
	}()
}

func (s *PeerSession) channel(label Label) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[label]
}

// checkAllChannelsOpen transitions to connected once every required
// channel has fired its open event (spec.md §4.4's channel-open barrier).
func (s *PeerSession) checkAllChannelsOpen() {
	s.mu.Lock()
	if s.state == StateConnected || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	for _, label := range AllLabels {
		ch, ok := s.channels[label]
		if !ok || !ch.IsOpen() {
			s.mu.Unlock()
			return
		}
	}
	s.state = StateConnected
	s.stateSince = time.Now()
	s.mu.Unlock()
	s.sink.OnConnected(s.RemoteName)
}

// Ask issues a request on the question channel with a fresh monotonic id
// and returns its Responder.
func (s *PeerSession) Ask(topic string, body any) (*Responder, error) {
	id, r := s.requests.Register()
	b, err := json.Marshal(requestFrame{ID: id, Topic: topic, Body: body})
	if err != nil {
		return nil, err
	}
	ch := s.channel(LabelQuestion)
	if ch == nil {
		return nil, parlorerr.New(parlorerr.KindChannelClosed, "question channel not open", nil)
	}
	if err := ch.Send(b); err != nil {
		return nil, err
	}
	return r, nil
}

// SendChat writes text on the chat channel.
func (s *PeerSession) SendChat(text string) error {
	ch := s.channel(LabelChat)
	if ch == nil {
		return parlorerr.New(parlorerr.KindChannelClosed, "chat channel not open", nil)
	}
	return ch.Send([]byte(text))
}

// SendDM writes text on the dm channel (recipient is implied by which
// session this is).
func (s *PeerSession) SendDM(text string) error {
	ch := s.channel(LabelDM)
	if ch == nil {
		return parlorerr.New(parlorerr.KindChannelClosed, "dm channel not open", nil)
	}
	return ch.Send([]byte(text))
}

// RawChannel exposes a named channel for a collaborating subsystem (the
// media layer's stream_offer/stream_answer/stream_ice/end_call traffic
// rides the parent session's channels, never the pub/sub bus).
func (s *PeerSession) RawChannel(label Label) *Channel { return s.channel(label) }

// Age reports how long the session has been in its current state.
func (s *PeerSession) Age() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.stateSince)
}

// CheckTimeout closes the session with HandshakeTimeout if it has spent
// longer than its current state's Δ timeout without progressing.
func (s *PeerSession) CheckTimeout() {
	s.mu.Lock()
	st := s.state
	age := time.Since(s.stateSince)
	connSt := s.connState
	connAge := time.Since(s.connStateSince)
	s.mu.Unlock()
	if d := timeoutFor(st); d > 0 && age > d {
		s.Close(parlorerr.New(parlorerr.KindHandshakeTimeout, "session timed out in state "+string(st), nil))
		return
	}
	if st == StateConnected || st == StateClosed {
		return
	}
	if d := transportStallTimeout(connSt); d > 0 && connAge > d {
		s.Close(parlorerr.New(parlorerr.KindHandshakeTimeout, "direct connection stalled in "+string(connSt), nil))
	}
}

// Close tears the session down: closes every channel and the direct
// connection, fails all outstanding requests with SessionClosed, and
// notifies the sink exactly once. Idempotent.
func (s *PeerSession) Close(reason error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.stateSince = time.Now()
		channels := s.channels
		s.mu.Unlock()

		s.requests.CloseAll()
		for _, ch := range channels {
			_ = ch.Close()
		}
		_ = s.conn.Close()
		s.sink.OnClosed(s.RemoteName, reason)
	})
}
