package parlor

import (
	"context"
	"time"

	"github.com/halvorsen/parlor/parlorerr"
	"github.com/halvorsen/parlor/pubsub"
	"github.com/halvorsen/parlor/session"
	"github.com/halvorsen/parlor/wire"
)

// Join starts the reconciliation loop: subscribes to the room topic, begins
// the announce cadence, and starts the periodic timeout/prune sweeps.
// Every subsequent embedder call (SendChat, Ask, Call, ...) is serialized
// onto this same loop goroutine.
func (c *Client) Join() error {
	c.ctx, c.cancel = context.WithCancel(context.Background())

	envelopes, err := c.pubsubClient.Subscribe(c.ctx)
	if err != nil {
		c.cancel()
		return parlorerr.New(parlorerr.KindTransport, "subscribe to room topic", err)
	}

	c.wg.Add(1)
	go c.loop(envelopes)

	c.announcer = pubsub.NewAnnouncer(c.ctx, c.anyConnected, c.publishAnnounce)
	c.recordHistory("join", c.selfName+" joined "+c.cfg.Room.Topic)
	return nil
}

// Leave tears every session down, stops the announcer, and stops the loop.
// It publishes a final unload frame so peers remove this name immediately
// rather than waiting for staleness pruning.
func (c *Client) Leave() {
	if c.cancel == nil {
		return
	}
	_ = c.pubsubClient.Publish(context.Background(), wire.New(c.selfName, wire.SubtopicUnload, nil))
	if c.announcer != nil {
		c.announcer.Stop()
	}
	for _, s := range c.snapshotSessions() {
		s.Close(parlorerr.New(parlorerr.KindUserAbort, "local leave", nil))
	}
	c.cancel()
	c.wg.Wait()
	c.recordHistory("leave", c.selfName+" left "+c.cfg.Room.Topic)
}

// loop is the single cooperative reconciliation goroutine: every wakeup is
// an inbound envelope, a timer fire, or a queued embedder command.
func (c *Client) loop(envelopes <-chan wire.Envelope) {
	defer c.wg.Done()

	sweep := time.NewTicker(sessionSweepInterval)
	defer sweep.Stop()
	prune := time.NewTicker(registryPruneInterval)
	defer prune.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case env, ok := <-envelopes:
			if !ok {
				return
			}
			c.handleEnvelope(env)
		case fn, ok := <-c.cmdCh:
			if !ok {
				return
			}
			fn()
		case <-sweep.C:
			for _, s := range c.snapshotSessions() {
				s.CheckTimeout()
			}
		case <-prune.C:
			c.registry.PruneStale(time.Now().Add(-registryPruneAge))
		}
	}
}

func (c *Client) anyConnected() bool {
	for _, s := range c.snapshotSessions() {
		if s.State() == session.StateConnected {
			return true
		}
	}
	return false
}

func (c *Client) publishAnnounce() {
	env := wire.New(c.selfName, wire.SubtopicConnect, wire.ConnectData{UserInfo: c.userInfo()})
	if err := c.pubsubClient.Publish(c.ctx, env); err != nil {
		log.Warnw("publish announce failed", "err", err)
	}
}

func (c *Client) userInfo() map[string]any {
	return map[string]any{"displayName": c.selfName}
}

// do enqueues fn to run on the loop goroutine, returning without waiting
// for it to execute.
func (c *Client) do(fn func()) {
	select {
	case c.cmdCh <- fn:
	case <-c.ctx.Done():
	}
}

// doSync enqueues fn and blocks until it has run (or the client has left).
// Every public API method uses this so side effects on session/map state
// only ever happen on the loop goroutine (spec.md §4.6).
func (c *Client) doSync(fn func()) {
	if c.ctx == nil {
		fn()
		return
	}
	done := make(chan struct{})
	c.do(func() { fn(); close(done) })
	select {
	case <-done:
	case <-c.ctx.Done():
	}
}
