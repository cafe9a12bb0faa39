package parlor

import (
	"github.com/halvorsen/parlor/media"
)

// The methods in this file satisfy session.Sink and media.Sink, letting
// Client itself serve as every PeerSession's and MediaSubSession's
// collaborator. They run on whichever goroutine the underlying transport
// invokes its callbacks on, not necessarily the reconciliation loop —
// each method takes care to only touch Client state through its
// concurrency-safe accessors.

// OnChat implements session.Sink.
func (c *Client) OnChat(remoteName, text string) {
	c.recordHistory("chat", remoteName+": "+text)
	c.sink.OnChat(remoteName, text)
}

// OnDM implements session.Sink.
func (c *Client) OnDM(remoteName, text string) {
	c.recordHistory("dm", remoteName+": "+text)
	c.sink.OnDM(remoteName, text)
}

// OnConnected implements session.Sink: once the channel-open barrier
// clears, notify the embedder and kick off the identity admission
// sequence in its own goroutine (it blocks on request/response RPC).
func (c *Client) OnConnected(remoteName string) {
	c.recordHistory("connected", remoteName+" connected")
	c.sink.OnPeerConnected(remoteName)
	if sess, ok := c.sessionFor(remoteName); ok {
		go c.runValidation(sess)
	}
}

// OnClosed implements session.Sink.
func (c *Client) OnClosed(remoteName string, reason error) {
	c.removeSession(remoteName)
	if m, ok := c.mediaSubFor(remoteName); ok {
		m.Hangup()
	}
	c.recordHistory("closed", remoteName+" session closed")
	c.sink.OnPeerDisconnected(remoteName, reason)
}

// OnIncomingCall implements media.Sink.
func (c *Client) OnIncomingCall(remoteName string, info media.StreamInfo) media.IncomingCallResolution {
	return c.sink.OnIncomingCall(remoteName, info)
}

// OnCallState implements media.Sink: it only tracks the mediaSubs map
// lifecycle; per-state forwarding to the embedder happens through the
// *media.Sub handle Call returned (its Started/Ended futures).
func (c *Client) OnCallState(remoteName string, state media.State) {
	if state == media.StateClosed {
		c.removeMediaSub(remoteName)
	}
}
