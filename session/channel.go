package session

import (
	"sync"
	"time"

	"github.com/halvorsen/parlor/parlorerr"
	"github.com/halvorsen/parlor/transport"
)

// Label is one of the fixed channel names spec.md §3 enumerates. Channel
// labels are negotiated once at session setup.
type Label string

const (
	LabelConnectedViaRTC Label = "connected_via_rtc"
	LabelChat            Label = "chat"
	LabelDM              Label = "dm"
	LabelQuestion        Label = "question"
	LabelAnswer          Label = "answer"
	LabelPing            Label = "ping"
	LabelPong            Label = "pong"
	LabelStreamICE       Label = "stream_ice"
	LabelStreamOffer     Label = "stream_offer"
	LabelStreamAnswer    Label = "stream_answer"
	LabelEndCall         Label = "end_call"
)

// AllLabels is the full required channel set a session must open before it
// is considered connected (spec.md §4.4's channel-open barrier).
var AllLabels = []Label{
	LabelConnectedViaRTC, LabelChat, LabelDM, LabelQuestion, LabelAnswer,
	LabelPing, LabelPong, LabelStreamICE, LabelStreamOffer, LabelStreamAnswer, LabelEndCall,
}

// channelOpenTimeout is the 10s ChannelTimeout duration spec.md §4.4 names
// for sends issued before a channel opens.
const channelOpenTimeout = 10 * time.Second

// maxPendingWrites is the high-water mark on writes queued before a
// channel opens; a sender racing far ahead of channel-open gets
// ChannelBackpressure instead of growing the queue without bound
// (spec.md §5's backpressure signaling).
const maxPendingWrites = 32

// queuedWrite is a send that arrived before the channel opened.
type queuedWrite struct {
	data []byte
	done chan error
}

// Channel is a named reliable ordered byte stream over the direct
// connection. Sends issued before the underlying transport.DataChannel
// reports open are queued and flushed in order once it does; a send still
// pending after channelOpenTimeout fails with ChannelTimeout. Grounded on
// the teacher's call.Session queuing offers/ICE until media is ready
// (internal/call/session.go's mediaReady gate), generalized to every
// channel rather than just the media PC.
type Channel struct {
	label Label
	dc    transport.DataChannel

	mu      sync.Mutex
	open    bool
	closed  bool
	pending []*queuedWrite
	onMsg   func([]byte)
}

// newChannel wraps dc as a Channel and wires its open/close/message
// callbacks.
func newChannel(label Label, dc transport.DataChannel) *Channel {
	c := &Channel{label: label, dc: dc}
	dc.OnOpen(c.handleOpen)
	dc.OnClose(c.handleClose)
	dc.OnMessage(func(data []byte) {
		c.mu.Lock()
		fn := c.onMsg
		c.mu.Unlock()
		if fn != nil {
			fn(data)
		}
	})
	return c
}

func (c *Channel) Label() Label { return c.label }

func (c *Channel) handleOpen() {
	c.mu.Lock()
	c.open = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, w := range pending {
		err := c.dc.Send(w.data)
		w.done <- err
	}
}

func (c *Channel) handleClose() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, w := range pending {
		w.done <- parlorerr.New(parlorerr.KindChannelClosed, "channel closed before send flushed", nil)
	}
}

// IsOpen reports whether the channel has fired its open event.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// OnMessage registers the handler for inbound frames on this channel.
func (c *Channel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.onMsg = fn
	c.mu.Unlock()
}

// Send writes data to the channel. If the channel is not yet open, the
// write is queued and this call blocks until it is flushed, the channel
// closes, or channelOpenTimeout elapses.
func (c *Channel) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return parlorerr.New(parlorerr.KindChannelClosed, "channel is closed", nil)
	}
	if c.open {
		c.mu.Unlock()
		return c.dc.Send(data)
	}
	if len(c.pending) >= maxPendingWrites {
		c.mu.Unlock()
		return parlorerr.New(parlorerr.KindChannelBackpressure, "too many writes queued before channel open", nil)
	}
	w := &queuedWrite{data: data, done: make(chan error, 1)}
	c.pending = append(c.pending, w)
	c.mu.Unlock()

	select {
	case err := <-w.done:
		return err
	case <-time.After(channelOpenTimeout):
		c.cancelPending(w)
		return parlorerr.New(parlorerr.KindChannelTimeout, "channel did not open in time", nil)
	}
}

// cancelPending drops w from the queue after it has timed out, so a
// channel that opens later does not flush and deliver a write the caller
// was already told had failed.
func (c *Channel) cancelPending(w *queuedWrite) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.pending {
		if p == w {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// Close closes the underlying data channel.
func (c *Channel) Close() error { return c.dc.Close() }
