package webrtc

import (
	pion "github.com/pion/webrtc/v4"

	"github.com/halvorsen/parlor/transport"
)

type dataChannel struct{ dc *pion.DataChannel }

func newDataChannel(dc *pion.DataChannel) *dataChannel { return &dataChannel{dc: dc} }

func (d *dataChannel) Label() string { return d.dc.Label() }

func (d *dataChannel) Send(data []byte) error { return d.dc.Send(data) }

func (d *dataChannel) Close() error { return d.dc.Close() }

func (d *dataChannel) OnMessage(fn func([]byte)) {
	d.dc.OnMessage(func(msg pion.DataChannelMessage) { fn(msg.Data) })
}

func (d *dataChannel) OnOpen(fn func()) { d.dc.OnOpen(fn) }

func (d *dataChannel) OnClose(fn func()) { d.dc.OnClose(fn) }

var _ transport.DataChannel = (*dataChannel)(nil)
