package parlor

import (
	"context"

	"github.com/halvorsen/parlor/identity"
	"github.com/halvorsen/parlor/media"
	"github.com/halvorsen/parlor/parlorerr"
	"github.com/halvorsen/parlor/session"
	"github.com/halvorsen/parlor/wire"
)

// SendChat broadcasts text on the chat channel of every currently
// connected session (spec.md §4.6's broadcast chat operation).
func (c *Client) SendChat(text string) error {
	var firstErr error
	c.doSync(func() {
		for _, sess := range c.snapshotSessions() {
			if sess.State() != session.StateConnected {
				continue
			}
			if err := sess.SendChat(text); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

// SendDM sends text directly to one named peer.
func (c *Client) SendDM(recipient, text string) error {
	var outErr error
	c.doSync(func() {
		sess, ok := c.sessionFor(recipient)
		if !ok {
			outErr = parlorerr.New(parlorerr.KindConfig, "no session with "+recipient, nil)
			return
		}
		outErr = sess.SendDM(text)
	})
	return outErr
}

// Ask issues a request/response RPC against one named peer's session.
func (c *Client) Ask(peer, topic string, body any) (*session.Responder, error) {
	var resp *session.Responder
	var outErr error
	c.doSync(func() {
		sess, ok := c.sessionFor(peer)
		if !ok {
			outErr = parlorerr.New(parlorerr.KindConfig, "no session with "+peer, nil)
			return
		}
		resp, outErr = sess.Ask(topic, body)
	})
	return resp, outErr
}

// Call starts an outgoing MediaSubSession toward peer, dedicated to audio/
// video and carried entirely over the peer's existing PeerSession channels
// (spec.md §4.5). local supplies the platform's camera/microphone capture.
func (c *Client) Call(peer string, local media.LocalMedia, info media.StreamInfo) (*media.Sub, error) {
	var sub *media.Sub
	var outErr error
	c.doSync(func() {
		sess, ok := c.sessionFor(peer)
		if !ok || sess.State() != session.StateConnected {
			outErr = parlorerr.New(parlorerr.KindConfig, "peer "+peer+" is not connected", nil)
			return
		}
		if _, exists := c.mediaSubFor(peer); exists {
			outErr = parlorerr.New(parlorerr.KindConfig, "a call with "+peer+" is already active", nil)
			return
		}
		m := media.New(peer, sessionChannels{sess}, c.factory, c.directConfig(), c)
		c.setMediaSub(peer, m)
		if err := m.Start(local, info); err != nil {
			c.removeMediaSub(peer)
			outErr = err
			return
		}
		sub = m
	})
	return sub, outErr
}

// HangUp ends the active call with peer, if any.
func (c *Client) HangUp(peer string) error {
	var outErr error
	c.doSync(func() {
		m, ok := c.mediaSubFor(peer)
		if !ok {
			outErr = parlorerr.New(parlorerr.KindConfig, "no active call with "+peer, nil)
			return
		}
		m.Hangup()
	})
	return outErr
}

// ChangeName renames the local identity: validates the new bare name,
// rebinds the pub/sub self-filter, persists the name (unless anonymous),
// and announces the change so peers update their KnownPeer tables without
// tearing down any existing session (spec.md §3: name_change mutates).
func (c *Client) ChangeName(newName string) error {
	valid, err := identity.ValidateBareName(newName)
	if err != nil {
		return err
	}
	var outErr error
	c.doSync(func() {
		old := c.selfName
		if old == valid {
			return
		}
		c.selfName = valid
		c.pubsubClient.SetSelfName(valid)
		if err := c.identity.PersistName(valid); err != nil {
			log.Warnw("persist display name failed", "name", valid, "err", err)
		}
		env := wire.New(old, wire.SubtopicNameChange, wire.NameChangeData{OldName: old, NewName: valid})
		if err := c.pubsubClient.Publish(context.Background(), env); err != nil {
			log.Warnw("publish nameChange failed", "err", err)
			outErr = err
			return
		}
		c.recordHistory("nameChange", old+" -> "+valid)
	})
	return outErr
}
