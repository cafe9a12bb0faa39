// Package pubsub defines the PubSubTransport capability (spec.md §6) that
// CoreClient uses for peer discovery and signaling, plus the announce-
// cadence policy layered on top of it. The transport itself — topic
// membership, delivery, self-filtering of the wire — is left to an
// adapter; pubsub/libp2ppubsub grounds the default one on the teacher's
// internal/p2p/node.go, and pubsub/wsbus offers a lightweight
// websocket-hub alternative for environments without a libp2p stack.
package pubsub

import (
	"context"
	"time"
)

// Message is one inbound frame delivered by a Transport subscription,
// still encoded — Client decodes it with a wire.Codec before dispatch.
type Message struct {
	Data []byte
}

// Transport is the narrow capability a platform must provide: join one
// topic, publish byte frames to it, and receive an inbound stream of
// frames from everyone else on it (implementations typically filter out
// a subscriber's own publishes, but Client re-filters defensively by
// envelope sender since not every adapter can guarantee that).
type Transport interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topic string) (<-chan Message, error)
	Close() error
}

// Announce cadence (spec.md §3): immediately after subscribe, then every
// Burst for BurstWindow, then every Steady — but only while no session is
// connected.
const (
	AnnounceBurstInterval = 3 * time.Second
	AnnounceBurstWindow   = 15 * time.Second
	AnnounceSteadyInterval = 30 * time.Second
)

// AnyConnected reports whether at least one PeerSession is currently in
// the connected state — used to gate the steady-state announce ticker.
type AnyConnected func() bool

// Announcer drives the announce-cadence policy: it invokes onTick
// immediately, then on every cadence tick, until Stop is called. It does
// not itself know how to build or send an announce frame; the caller
// supplies that via onTick.
type Announcer struct {
	anyConnected AnyConnected
	onTick       func()
	cancel       context.CancelFunc
}

// NewAnnouncer starts the cadence immediately in a background goroutine,
// invoking onTick once right away and then on every subsequent cadence
// tick (burst, then steady, gated on anyConnected).
func NewAnnouncer(ctx context.Context, anyConnected AnyConnected, onTick func()) *Announcer {
	ctx, cancel := context.WithCancel(ctx)
	a := &Announcer{anyConnected: anyConnected, onTick: onTick, cancel: cancel}
	go a.run(ctx)
	return a
}

func (a *Announcer) run(ctx context.Context) {
	a.onTick()

	burstDeadline := time.Now().Add(AnnounceBurstWindow)
	burst := time.NewTicker(AnnounceBurstInterval)
	for time.Now().Before(burstDeadline) {
		select {
		case <-ctx.Done():
			burst.Stop()
			return
		case <-burst.C:
			if a.anyConnected == nil || !a.anyConnected() {
				a.onTick()
			}
		}
	}
	burst.Stop()

	steady := time.NewTicker(AnnounceSteadyInterval)
	defer steady.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-steady.C:
			if a.anyConnected == nil || !a.anyConnected() {
				a.onTick()
			}
		}
	}
}

// Stop halts the announcer's background goroutine.
func (a *Announcer) Stop() { a.cancel() }
