package parlor

import (
	"encoding/json"

	"github.com/halvorsen/parlor/parlorerr"
	"github.com/halvorsen/parlor/session"
	"github.com/halvorsen/parlor/trust"
)

// identifyRequest/identifyResponse/challengeRequest/challengeResponse are
// the four payload shapes carried over session.TopicIdentify/TopicChallenge
// (spec.md §4.4's admission RPCs). The responder always answers with ITS
// OWN key and signature — never the requester's — regardless of which
// side issued the ask.
type identifyRequest struct {
	Challenge []byte `json:"challenge"`
}

type identifyResponse struct {
	PublicKey string `json:"publicKey"`
	Signature []byte `json:"signature"`
}

type challengeRequest struct {
	Challenge []byte `json:"challenge"`
}

type challengeResponse struct {
	Signature []byte `json:"signature"`
}

func decodeBody(body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// answerQuestion returns the session.QuestionHandler a PeerSession toward
// remoteName uses to answer inbound "question" frames: the identify and
// challenge topics are handled locally (sign the offered challenge with
// our own key); everything else delegates to the embedder's sink.
func (c *Client) answerQuestion(remoteName string) session.QuestionHandler {
	return func(topic string, body any) (any, error) {
		switch topic {
		case session.TopicIdentify:
			var req identifyRequest
			if err := decodeBody(body, &req); err != nil {
				return nil, parlorerr.New(parlorerr.KindConfig, "malformed identify request", err)
			}
			sig, err := c.identity.Sign(req.Challenge)
			if err != nil {
				return nil, err
			}
			return identifyResponse{PublicKey: c.identity.PublicKeyString(), Signature: sig}, nil
		case session.TopicChallenge:
			var req challengeRequest
			if err := decodeBody(body, &req); err != nil {
				return nil, parlorerr.New(parlorerr.KindConfig, "malformed challenge request", err)
			}
			sig, err := c.identity.Sign(req.Challenge)
			if err != nil {
				return nil, err
			}
			return challengeResponse{Signature: sig}, nil
		default:
			return c.sink.OnQuestion(remoteName, topic, body)
		}
	}
}

// runValidation runs the post-connect admission sequence (spec.md §4.4):
// if the trust policy rejects the peer outright, close the session;
// otherwise issue identify (name not yet bound to a key) or challenge
// (name already bound) and mark the session validated on success.
func (c *Client) runValidation(sess *session.PeerSession) {
	name := sess.RemoteName
	cat, decision := c.trust.Decide(c.admissionFactors(name))
	switch decision {
	case trust.DecisionReject:
		sess.Close(parlorerr.New(parlorerr.KindRejected, "trust policy rejected peer after connect", nil))
		return
	case trust.DecisionConnectThenPrompt:
		if !c.sink.OnTrustPrompt(name, cat, decision) {
			c.recordHistory("reject", name+" rejected by embedder prompt after connect")
			sess.Close(parlorerr.New(parlorerr.KindRejected, "embedder rejected peer after connect", nil))
			return
		}
	}

	key, known := c.identity.KeyForName(name)
	if known {
		c.runChallenge(sess, name, key)
	} else {
		c.runIdentify(sess, name)
	}
}

func (c *Client) runIdentify(sess *session.PeerSession, name string) {
	challenge, err := c.identity.NewChallenge()
	if err != nil {
		c.failValidation(sess, name, parlorerr.New(parlorerr.KindConfig, "generate challenge", err))
		return
	}
	responder, err := sess.Ask(session.TopicIdentify, identifyRequest{Challenge: challenge})
	if err != nil {
		c.failValidation(sess, name, err)
		return
	}
	result, err := responder.Wait()
	if err != nil {
		c.failValidation(sess, name, err)
		return
	}
	var resp identifyResponse
	if err := decodeBody(result, &resp); err != nil {
		c.failValidation(sess, name, parlorerr.New(parlorerr.KindBadSignature, "malformed identify response", err))
		return
	}
	if !c.identity.Verify(resp.PublicKey, resp.Signature, challenge) {
		c.failValidation(sess, name, parlorerr.New(parlorerr.KindBadSignature, "identify signature did not verify", nil))
		return
	}
	if err := c.identity.Bind(name, resp.PublicKey); err != nil {
		c.failValidation(sess, name, err)
		return
	}
	c.completeValidation(sess, name)
}

func (c *Client) runChallenge(sess *session.PeerSession, name, expectedKey string) {
	challenge, err := c.identity.NewChallenge()
	if err != nil {
		c.failValidation(sess, name, parlorerr.New(parlorerr.KindConfig, "generate challenge", err))
		return
	}
	responder, err := sess.Ask(session.TopicChallenge, challengeRequest{Challenge: challenge})
	if err != nil {
		c.failValidation(sess, name, err)
		return
	}
	result, err := responder.Wait()
	if err != nil {
		c.failValidation(sess, name, err)
		return
	}
	var resp challengeResponse
	if err := decodeBody(result, &resp); err != nil {
		c.failValidation(sess, name, parlorerr.New(parlorerr.KindBadSignature, "malformed challenge response", err))
		return
	}
	if !c.identity.Verify(expectedKey, resp.Signature, challenge) {
		c.failValidation(sess, name, parlorerr.New(parlorerr.KindBadSignature, "challenge signature did not verify", nil))
		return
	}
	c.completeValidation(sess, name)
}

func (c *Client) completeValidation(sess *session.PeerSession, name string) {
	sess.MarkValidated()
	c.recordHistory("validated", name+" passed identity admission")
	c.sink.OnValidated(name)
}

func (c *Client) failValidation(sess *session.PeerSession, name string, reason error) {
	c.recordHistory("validation_failed", name+": "+reason.Error())
	c.sink.OnValidationFailed(name, reason)
	sess.Close(parlorerr.New(parlorerr.KindValidationFailed, "admission failed for "+name, reason))
}
