package parlor

import (
	"github.com/halvorsen/parlor/parlorerr"
	"github.com/halvorsen/parlor/session"
)

// sessionChannels adapts a *session.PeerSession's fixed reliable channels
// to media.ParentChannels, converting between media's plain string labels
// and session.Label.
type sessionChannels struct {
	sess *session.PeerSession
}

func (a sessionChannels) SendOnLabel(label string, data []byte) error {
	ch := a.sess.RawChannel(session.Label(label))
	if ch == nil {
		return parlorerr.New(parlorerr.KindChannelClosed, "channel "+label+" not open", nil)
	}
	return ch.Send(data)
}

func (a sessionChannels) OnLabel(label string, fn func(data []byte)) {
	if ch := a.sess.RawChannel(session.Label(label)); ch != nil {
		ch.OnMessage(fn)
	}
}
