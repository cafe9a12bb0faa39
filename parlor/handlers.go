package parlor

import (
	"encoding/json"

	"github.com/halvorsen/parlor/identity"
	"github.com/halvorsen/parlor/parlorerr"
	"github.com/halvorsen/parlor/session"
	"github.com/halvorsen/parlor/transport"
	"github.com/halvorsen/parlor/trust"
	"github.com/halvorsen/parlor/wire"
)

// decodeAny round-trips src (typically a map[string]any produced by the
// envelope's own json.Unmarshal into an `any` field) into dst.
func decodeAny(src, dst any) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

func (c *Client) handleEnvelope(env wire.Envelope) {
	switch env.Subtopic {
	case wire.SubtopicConnect:
		c.handleConnect(env)
	case wire.SubtopicUnload:
		c.handleUnload(env)
	case wire.SubtopicNameChange:
		c.handleNameChange(env)
	case wire.SubtopicRTCOffer:
		c.handleRTCOffer(env)
	case wire.SubtopicRTCAnswer:
		c.handleRTCAnswer(env)
	case wire.SubtopicRTCIceCandidate:
		c.handleRTCIceCandidate(env)
	default:
		log.Warnw("unknown envelope subtopic", "subtopic", env.Subtopic)
	}
}

func (c *Client) handleConnect(env wire.Envelope) {
	var data wire.ConnectData
	if err := decodeAny(env.Data, &data); err != nil {
		log.Warnw("malformed connect envelope", "sender", env.Sender, "err", err)
		return
	}
	c.registry.Observe(env.Sender, data.UserInfo)
	c.recordHistory("announce", env.Sender+" announced")
	c.maybeOffer(env.Sender)
}

func (c *Client) handleUnload(env wire.Envelope) {
	c.registry.Remove(env.Sender)
	if sess, ok := c.sessionFor(env.Sender); ok {
		sess.Close(parlorerr.New(parlorerr.KindUserAbort, "peer left the room", nil))
	}
}

func (c *Client) handleNameChange(env wire.Envelope) {
	var data wire.NameChangeData
	if err := decodeAny(env.Data, &data); err != nil {
		log.Warnw("malformed nameChange envelope", "sender", env.Sender, "err", err)
		return
	}
	c.registry.Rename(data.OldName, data.NewName)
	c.mu.Lock()
	if sess, ok := c.sessions[data.OldName]; ok {
		delete(c.sessions, data.OldName)
		c.sessions[data.NewName] = sess
	}
	c.mu.Unlock()
	c.recordHistory("nameChange", data.OldName+" -> "+data.NewName)
}

// maybeOffer creates and starts offering a session toward name if none
// exists yet and the trust policy admits it (spec.md §4.6 step 1).
func (c *Client) maybeOffer(name string) {
	if name == "" || name == c.selfName {
		return
	}
	if _, exists := c.sessionFor(name); exists {
		return
	}
	cat, decision := c.trust.Decide(c.admissionFactors(name))
	switch decision {
	case trust.DecisionReject:
		c.recordHistory("reject", name+" rejected by trust policy before connect")
		return
	case trust.DecisionPromptThenTrust:
		if !c.sink.OnTrustPrompt(name, cat, decision) {
			c.recordHistory("reject", name+" rejected by embedder prompt before connect")
			return
		}
	}

	sess := c.newSession(name)
	if sess == nil {
		return
	}
	c.setSession(name, sess)
	c.flushPendingCandidateInto(sess, name)

	offerSDP, err := sess.StartOffering()
	if err != nil {
		log.Warnw("start offering failed", "peer", name, "err", err)
		c.removeSession(name)
		return
	}
	env := wire.New(c.selfName, wire.SubtopicRTCOffer, wire.RTCOfferData{
		Offer: wire.OfferPayload{LocalDescription: offerSDP, Target: name},
	})
	if err := c.pubsubClient.Publish(c.ctx, env); err != nil {
		log.Warnw("publish offer failed", "peer", name, "err", err)
	}
}

func (c *Client) handleRTCOffer(env wire.Envelope) {
	var data wire.RTCOfferData
	if err := decodeAny(env.Data, &data); err != nil {
		log.Warnw("malformed RTCOffer envelope", "sender", env.Sender, "err", err)
		return
	}
	if data.Offer.Target != c.selfName {
		return
	}
	name := env.Sender
	sess, exists := c.sessionFor(name)
	if !exists {
		cat, decision := c.trust.Decide(c.admissionFactors(name))
		if decision == trust.DecisionReject {
			c.recordHistory("reject", name+" rejected by trust policy before accepting offer")
			return
		}
		if decision == trust.DecisionPromptThenTrust && !c.sink.OnTrustPrompt(name, cat, decision) {
			c.recordHistory("reject", name+" rejected by embedder prompt before accepting offer")
			return
		}
		sess = c.newSession(name)
		if sess == nil {
			return
		}
		c.setSession(name, sess)
		c.flushPendingCandidateInto(sess, name)
	}

	// Remote tab suffixes aren't carried on the wire envelope; glare ties
	// between two sessions toward the very same bare name fall back to an
	// empty-string tab comparison, a known limitation for same-name
	// multi-tab peers.
	answerSDP, _, err := sess.HandleRemoteOffer(data.Offer.LocalDescription, name, "")
	if err != nil {
		log.Warnw("handle remote offer failed", "peer", name, "err", err)
		return
	}
	if answerSDP == "" {
		return
	}
	env2 := wire.New(c.selfName, wire.SubtopicRTCAnswer, wire.RTCAnswerData{LocalDescription: answerSDP, Target: name})
	if err := c.pubsubClient.Publish(c.ctx, env2); err != nil {
		log.Warnw("publish answer failed", "peer", name, "err", err)
	}
}

func (c *Client) handleRTCAnswer(env wire.Envelope) {
	var data wire.RTCAnswerData
	if err := decodeAny(env.Data, &data); err != nil {
		log.Warnw("malformed RTCAnswer envelope", "sender", env.Sender, "err", err)
		return
	}
	if data.Target != c.selfName {
		return
	}
	sess, exists := c.sessionFor(env.Sender)
	if !exists {
		return
	}
	if err := sess.HandleRemoteAnswer(data.LocalDescription); err != nil {
		log.Warnw("handle remote answer failed", "peer", env.Sender, "err", err)
	}
}

func (c *Client) handleRTCIceCandidate(env wire.Envelope) {
	var data wire.RTCIceCandidateData
	if err := decodeAny(env.Data, &data); err != nil {
		log.Warnw("malformed RTCIceCandidate envelope", "sender", env.Sender, "err", err)
		return
	}
	if data.Target != c.selfName {
		return
	}
	var cand transport.Candidate
	if err := decodeAny(data.Candidate, &cand); err != nil {
		log.Warnw("malformed candidate payload", "sender", env.Sender, "err", err)
		return
	}
	name := env.Sender
	if sess, ok := c.sessionFor(name); ok {
		if err := sess.HandleRemoteCandidate(cand); err != nil {
			log.Warnw("handle remote candidate failed", "peer", name, "err", err)
		}
		return
	}
	c.setPendingCandidate(name, cand)
}

func (c *Client) flushPendingCandidateInto(sess *session.PeerSession, name string) {
	if cand, ok := c.takePendingCandidate(name); ok {
		if err := sess.HandleRemoteCandidate(cand); err != nil {
			log.Warnw("apply buffered candidate failed", "peer", name, "err", err)
		}
	}
}

// newSession constructs a fresh PeerSession over a new direct connection,
// wiring its question/answer RPC to the identify/challenge admission
// sequence and everything else to sink.
func (c *Client) newSession(name string) *session.PeerSession {
	conn, err := c.factory.NewConnection(c.directConfig())
	if err != nil {
		log.Warnw("create direct connection failed", "peer", name, "err", err)
		return nil
	}
	sess := session.New(c.selfName, c.tabID, name, conn, c, c.answerQuestion(name))
	return sess
}

// admissionFactors derives trust.Factors from what the identity store
// already knows about name, before any key has been exchanged this
// session (spec.md §4.3's pre-connect gate).
func (c *Client) admissionFactors(name string) trust.Factors {
	_, known := c.identity.KeyForName(name)
	return trust.Factors{
		NameIsAnonymous: identity.IsAnonymous(name),
		HasOfferedKey:   false,
		NameHasOtherKey: known,
	}
}
