// Package media implements MediaSubSession: the optional audio/video
// transport owned by one PeerSession, signaled over the parent's
// stream_offer/stream_answer/stream_ice/end_call channels rather than the
// pub/sub bus. Grounded on the teacher's internal/call/session.go (offer/
// answer/ICE-buffering flow) and internal/call/media_linux.go (codec
// selection, capture-with-fallback), generalized from a single
// browser-facing call session to a symmetric peer-to-peer sub-session.
//
// A sub-session does not re-negotiate ICE or refresh TURN credentials
// mid-call: the connection set up by Start or by an accepted offer is the
// only one it uses.
package media

import (
	"encoding/json"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/halvorsen/parlor/parlorerr"
	"github.com/halvorsen/parlor/transport"
)

var log = logging.Logger("parlor/media")

// State is one of the MediaSubSession lifecycle states (spec.md §4.5).
// The emitted states of a sub-session follow the order
// idle -> offered -> answered -> connected -> closed, with steps skipped
// where they do not apply (the caller emits offered, the callee does not; a
// rejected call goes from offered straight to closed); closed fires exactly
// once.
type State string

const (
	StateIdle      State = "idle"
	StateOffered   State = "offered"
	StateAnswered  State = "answered"
	StateConnected State = "connected"
	StateClosed    State = "closed"
)

// StreamInfo describes which local tracks a side is offering or has
// accepted.
type StreamInfo struct {
	HasAudio bool `json:"hasAudio"`
	HasVideo bool `json:"hasVideo"`
}

// offerPayload is carried on the parent session's stream_offer channel.
type offerPayload struct {
	OfferSDP   string     `json:"offerSdp"`
	StreamInfo StreamInfo `json:"streamInfo"`
}

// answerPayload is carried on the parent session's stream_answer channel.
type answerPayload struct {
	AnswerSDP  string     `json:"answerSdp"`
	StreamInfo StreamInfo `json:"streamInfo"`
}

// LocalMedia is the narrow capability this package needs from whatever
// acquires camera/microphone access — acquisition itself is out of scope
// (spec.md §1) and left to the embedder.
type LocalMedia interface {
	// Attach adds this media's local tracks to conn and returns a function
	// that stops every local track exactly once.
	Attach(conn transport.Connection) (stop func(), err error)
}

// ParentChannels is the narrow slice of the parent PeerSession a
// MediaSubSession needs: send on a named channel and be notified when a
// frame arrives on it.
type ParentChannels interface {
	SendOnLabel(label string, data []byte) error
	OnLabel(label string, fn func(data []byte))
}

// IncomingCallResolution is the embedder's answer to an on_incoming_call
// event: either Accept with its own stream info, or Reject.
type IncomingCallResolution struct {
	Accept bool
	Info   StreamInfo
}

// Sink receives MediaSubSession events the owning PeerSession surfaces to
// the embedder.
type Sink interface {
	// OnIncomingCall is invoked when a stream_offer arrives; its return
	// value decides accept/reject.
	OnIncomingCall(remoteName string, info StreamInfo) IncomingCallResolution
	// OnCallState fires once per state transition, in the order
	// offered -> answered -> connected -> closed (see State).
	OnCallState(remoteName string, state State)
}

const (
	labelStreamOffer  = "stream_offer"
	labelStreamAnswer = "stream_answer"
	labelStreamICE    = "stream_ice"
	labelEndCall      = "end_call"
)

// Sub is one MediaSubSession. At most one exists per PeerSession at a time;
// that invariant is enforced by parlor.Client, not here.
type Sub struct {
	remoteName string
	parent     ParentChannels
	factory    transport.Factory
	cfg        transport.Config
	sink       Sink

	mu        sync.Mutex
	state     State
	conn      transport.Connection
	stopLocal func()
	pendingICE []transport.Candidate
	remoteSet  bool
	closeOnce  sync.Once
	endFired   bool
	closeReason error

	started     chan struct{}
	startedOnce sync.Once
	startErr    error
	ended       chan error
	endedOnce   sync.Once
}

// New constructs an idle Sub wired to the parent session's media-signaling
// channels.
func New(remoteName string, parent ParentChannels, factory transport.Factory, cfg transport.Config, sink Sink) *Sub {
	s := &Sub{
		remoteName: remoteName, parent: parent, factory: factory, cfg: cfg, sink: sink, state: StateIdle,
		started: make(chan struct{}), ended: make(chan error, 1),
	}
	parent.OnLabel(labelStreamOffer, s.handleOffer)
	parent.OnLabel(labelStreamAnswer, s.handleAnswer)
	parent.OnLabel(labelStreamICE, s.handleRemoteCandidate)
	parent.OnLabel(labelEndCall, func([]byte) { s.closeCall(parlorerr.New(parlorerr.KindUserAbort, "remote ended call", nil)) })
	return s
}

// State returns the current lifecycle state.
func (s *Sub) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Started resolves once the sub-session reaches connected. If it closes
// first, Started still resolves (it never blocks forever) and StartErr
// reports why.
func (s *Sub) Started() <-chan struct{} { return s.started }

// StartErr is only meaningful after Started() has resolved without the
// sub-session ever reaching connected.
func (s *Sub) StartErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startErr
}

// Ended resolves exactly once, with the reason the call closed (a
// KindUserAbort error for a local Hangup or a remote end_call).
func (s *Sub) Ended() <-chan error { return s.ended }

func (s *Sub) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()

	switch st {
	case StateConnected:
		s.startedOnce.Do(func() { close(s.started) })
	case StateClosed:
		s.mu.Lock()
		reason := s.closeReason
		s.mu.Unlock()
		s.startedOnce.Do(func() {
			s.mu.Lock()
			s.startErr = reason
			s.mu.Unlock()
			close(s.started)
		})
		s.endedOnce.Do(func() {
			s.ended <- reason
			close(s.ended)
		})
	}

	s.sink.OnCallState(s.remoteName, st)
}

// Start creates a fresh direct connection reserved for media, attaches
// local, creates an offer, and sends it on stream_offer (spec.md §4.5).
func (s *Sub) Start(local LocalMedia, info StreamInfo) error {
	conn, err := s.factory.NewConnection(s.cfg)
	if err != nil {
		return parlorerr.New(parlorerr.KindTransport, "create media connection", err)
	}
	stop, err := local.Attach(conn)
	if err != nil {
		return parlorerr.New(parlorerr.KindTransport, "attach local media", err)
	}
	offer, err := conn.CreateOffer()
	if err != nil {
		stop()
		return parlorerr.New(parlorerr.KindBadSdp, "create media offer", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.stopLocal = stop
	s.mu.Unlock()
	conn.OnConnectionStateChange(func(st transport.ConnectionState) {
		if st == transport.StateConnected {
			s.setState(StateConnected)
		} else if st == transport.StateFailed || st == transport.StateClosed {
			s.closeCall(parlorerr.New(parlorerr.KindTransport, "media connection "+string(st), nil))
		}
	})

	payload, err := json.Marshal(offerPayload{OfferSDP: offer, StreamInfo: info})
	if err != nil {
		return err
	}
	s.setState(StateOffered)
	return s.parent.SendOnLabel(labelStreamOffer, payload)
}

// handleOffer implements the receiving side of spec.md §4.5: surface
// on_incoming_call, and on accept acquire local media, answer, and send it
// back on stream_answer; on reject, send end_call.
func (s *Sub) handleOffer(data []byte) {
	var p offerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warnw("malformed stream_offer", "peer", s.remoteName, "err", err)
		return
	}
	resolution := s.sink.OnIncomingCall(s.remoteName, p.StreamInfo)
	if !resolution.Accept {
		_ = s.parent.SendOnLabel(labelEndCall, []byte("{}"))
		s.closeCall(parlorerr.New(parlorerr.KindUserAbort, "call rejected", nil))
		return
	}

	conn, err := s.factory.NewConnection(s.cfg)
	if err != nil {
		log.Warnw("create media connection failed", "peer", s.remoteName, "err", err)
		return
	}
	if err := conn.SetRemoteDescription(p.OfferSDP); err != nil {
		log.Warnw("set remote media offer failed", "peer", s.remoteName, "err", err)
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.remoteSet = true
	s.mu.Unlock()
	conn.OnConnectionStateChange(func(st transport.ConnectionState) {
		if st == transport.StateConnected {
			s.setState(StateConnected)
		} else if st == transport.StateFailed || st == transport.StateClosed {
			s.closeCall(parlorerr.New(parlorerr.KindTransport, "media connection "+string(st), nil))
		}
	})

	answer, err := conn.CreateAnswer()
	if err != nil {
		log.Warnw("create media answer failed", "peer", s.remoteName, "err", err)
		return
	}
	s.flushPendingCandidates()

	out, err := json.Marshal(answerPayload{AnswerSDP: answer, StreamInfo: resolution.Info})
	if err != nil {
		log.Warnw("marshal stream_answer failed", "peer", s.remoteName, "err", err)
		return
	}
	s.setState(StateAnswered)
	if err := s.parent.SendOnLabel(labelStreamAnswer, out); err != nil {
		log.Warnw("send stream_answer failed", "peer", s.remoteName, "err", err)
	}
}

func (s *Sub) handleAnswer(data []byte) {
	var p answerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warnw("malformed stream_answer", "peer", s.remoteName, "err", err)
		return
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.SetRemoteDescription(p.AnswerSDP); err != nil {
		log.Warnw("set remote media answer failed", "peer", s.remoteName, "err", err)
		return
	}
	s.mu.Lock()
	s.remoteSet = true
	s.mu.Unlock()
	s.flushPendingCandidates()
	s.setState(StateAnswered)
}

func (s *Sub) handleRemoteCandidate(data []byte) {
	var c transport.Candidate
	if err := json.Unmarshal(data, &c); err != nil {
		log.Warnw("malformed stream_ice", "peer", s.remoteName, "err", err)
		return
	}
	s.mu.Lock()
	ready := s.remoteSet
	conn := s.conn
	if !ready {
		s.pendingICE = append(s.pendingICE, c)
	}
	s.mu.Unlock()
	if ready && conn != nil {
		if err := conn.AddICECandidate(c); err != nil {
			log.Warnw("add media ICE candidate failed", "peer", s.remoteName, "err", err)
		}
	}
}

func (s *Sub) flushPendingCandidates() {
	s.mu.Lock()
	pending := s.pendingICE
	s.pendingICE = nil
	conn := s.conn
	s.mu.Unlock()
	for _, c := range pending {
		if err := conn.AddICECandidate(c); err != nil {
			log.Warnw("flush buffered media ICE candidate failed", "peer", s.remoteName, "err", err)
		}
	}
}

// SendLocalCandidate forwards a locally discovered ICE candidate on
// stream_ice.
func (s *Sub) SendLocalCandidate(c transport.Candidate) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.parent.SendOnLabel(labelStreamICE, b)
}

// closeCall implements _close_call: stops all local tracks, closes the
// media connection, and transitions to closed exactly once (spec.md
// §4.5's "call-end fires exactly once" invariant).
func (s *Sub) closeCall(reason error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		stop := s.stopLocal
		conn := s.conn
		s.closeReason = reason
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		if conn != nil {
			_ = conn.Close()
		}
		s.setState(StateClosed)
	})
}

// Hangup is the local-initiated equivalent of receiving end_call: sends
// end_call to the remote and tears the sub-session down.
func (s *Sub) Hangup() {
	_ = s.parent.SendOnLabel(labelEndCall, []byte("{}"))
	s.closeCall(parlorerr.New(parlorerr.KindUserAbort, "local hang up", nil))
}
