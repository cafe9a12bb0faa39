package pubsub

import (
	"context"

	logging "github.com/ipfs/go-log/v2"

	"github.com/halvorsen/parlor/wire"
)

var log = logging.Logger("parlor/pubsub")

// defaultCompressionThreshold is the serialized-envelope byte length at or
// above which Publish compresses the payload (spec.md §4.1's "compresses
// if the serialized length ≥ threshold"). Small frames — most presence and
// signaling traffic — go out as plain JSON, since compressing them would
// cost more than it saves.
const defaultCompressionThreshold = 512

// Client decodes inbound Transport frames into envelopes, drops a
// subscriber's own publishes (spec.md §3/§8's self-message-filtering
// invariant — enforced here regardless of whether the underlying
// Transport already does it), and encodes outbound envelopes before
// handing them to the Transport.
type Client struct {
	transport            Transport
	codec                wire.Codec
	topic                string
	selfName             string
	compressionThreshold int
}

// New wraps transport for topic, filtering out envelopes whose sender
// matches selfName.
func New(transport Transport, codec wire.Codec, topic, selfName string) *Client {
	if codec == nil {
		codec = wire.IdentityCodec{}
	}
	return &Client{
		transport:            transport,
		codec:                codec,
		topic:                topic,
		selfName:             selfName,
		compressionThreshold: defaultCompressionThreshold,
	}
}

// Publish encodes and sends an envelope. Payloads shorter than the
// compression threshold are sent as plain JSON; larger ones are passed
// through the codec.
func (c *Client) Publish(ctx context.Context, e wire.Envelope) error {
	raw, err := wire.Marshal(e)
	if err != nil {
		return err
	}
	out := raw
	if len(raw) >= c.compressionThreshold {
		compressed, err := c.codec.Encode(raw)
		if err != nil {
			return err
		}
		out = compressed
	}
	return c.transport.Publish(ctx, c.topic, out)
}

// Subscribe returns a channel of decoded, self-filtered envelopes. The
// channel closes when ctx is done or the underlying transport closes its
// delivery channel.
func (c *Client) Subscribe(ctx context.Context) (<-chan wire.Envelope, error) {
	raw, err := c.transport.Subscribe(ctx, c.topic)
	if err != nil {
		return nil, err
	}
	out := make(chan wire.Envelope, 32)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-raw:
				if !ok {
					return
				}
				plain, err := c.codec.Decode(m.Data)
				if err != nil {
					// Payloads under the compression threshold were sent as
					// plain JSON and will not decode as the codec's
					// compressed format — fall back to the raw bytes.
					plain = m.Data
				}
				env, err := wire.Unmarshal(plain)
				if err != nil {
					log.Warnw("unmarshal envelope failed", "err", err)
					continue
				}
				if env.Sender == c.selfName {
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the underlying transport.
func (c *Client) Close() error { return c.transport.Close() }

// SetSelfName updates the sender name Client filters its own publishes by
// (spec.md §6's change_name operation renames the local sender identity
// without tearing down the pub/sub connection).
func (c *Client) SetSelfName(name string) { c.selfName = name }
