// Package libp2ppubsub is the default pubsub.Transport, backed by
// go-libp2p's gossipsub and LAN mDNS discovery. Grounded directly on the
// teacher's internal/p2p/node.go (host construction, NewGossipSub, topic
// Join/Subscribe, mdns.NewMdnsService), trimmed of the relay/rendezvous
// machinery that doesn't apply to this module's small-room scope.
package libp2ppubsub

import (
	"context"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	gossipsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"

	"github.com/halvorsen/parlor/pubsub"
)

var log = logging.Logger("parlor/pubsub/libp2p")

func init() {
	logging.SetLogLevel("swarm2", "error")
}

// Transport wraps a libp2p host and gossipsub router as a
// pubsub.Transport. One Transport serves exactly one room's worth of
// topics; Subscribe may be called multiple times for different topics
// against the same host.
type Transport struct {
	host host.Host
	ps   *gossipsub.PubSub

	mu     sync.Mutex
	topics map[string]*gossipsub.Topic
	subs   map[string]*gossipsub.Subscription
}

// Options configures the underlying libp2p host.
type Options struct {
	ListenPort int
	PrivateKey crypto.PrivKey // nil generates an ephemeral Ed25519 identity
	MDNSTag    string
}

// New constructs a Transport: a libp2p host listening on opts.ListenPort,
// a gossipsub router over it, and LAN peer discovery via mDNS.
func New(ctx context.Context, opts Options) (*Transport, error) {
	priv := opts.PrivateKey
	if priv == nil {
		var err error
		priv, _, err = crypto.GenerateEd25519Key(nil)
		if err != nil {
			return nil, err
		}
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", opts.ListenPort)),
	)
	if err != nil {
		return nil, err
	}

	ps, err := gossipsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	tag := opts.MDNSTag
	if tag == "" {
		tag = "parlor-room"
	}
	md := mdns.NewMdnsService(h, tag, &discoveryNotifee{h: h})
	if err := md.Start(); err != nil {
		_ = h.Close()
		return nil, err
	}

	return &Transport{
		host:   h,
		ps:     ps,
		topics: make(map[string]*gossipsub.Topic),
		subs:   make(map[string]*gossipsub.Subscription),
	}, nil
}

type discoveryNotifee struct{ h host.Host }

func (n *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	ctx := context.Background()
	if err := n.h.Connect(ctx, pi); err != nil {
		log.Debugw("mdns peer connect failed", "peer", pi.ID, "err", err)
	}
}

func (t *Transport) joinLocked(topic string) (*gossipsub.Topic, error) {
	if top, ok := t.topics[topic]; ok {
		return top, nil
	}
	top, err := t.ps.Join(topic)
	if err != nil {
		return nil, err
	}
	t.topics[topic] = top
	return top, nil
}

// Publish joins topic if needed and publishes data to it.
func (t *Transport) Publish(ctx context.Context, topic string, data []byte) error {
	t.mu.Lock()
	top, err := t.joinLocked(topic)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	return top.Publish(ctx, data)
}

// Subscribe joins topic if needed and returns a channel of inbound
// messages, excluding the local host's own publishes (messages whose
// ReceivedFrom is the local host's peer id are skipped).
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan pubsub.Message, error) {
	t.mu.Lock()
	top, err := t.joinLocked(topic)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	sub, err := top.Subscribe()
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	t.subs[topic] = sub
	t.mu.Unlock()

	out := make(chan pubsub.Message, 32)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				return
			}
			if msg.ReceivedFrom == t.host.ID() {
				continue
			}
			select {
			case out <- pubsub.Message{Data: msg.Data}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts down every subscription and the underlying host.
func (t *Transport) Close() error {
	t.mu.Lock()
	for _, sub := range t.subs {
		sub.Cancel()
	}
	t.mu.Unlock()
	return t.host.Close()
}

// ID returns the underlying host's peer id, for diagnostics.
func (t *Transport) ID() string { return t.host.ID().String() }

var _ pubsub.Transport = (*Transport)(nil)
