package pubsub

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/halvorsen/parlor/wire"
)

func TestClientFiltersOwnPublishes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newMemTransport()
	alice := New(bus, &ZstdCodec{}, "room.v1", "alice")
	bob := New(bus, &ZstdCodec{}, "room.v1", "bob")

	aliceIn, err := alice.Subscribe(ctx)
	if err != nil {
		t.Fatalf("alice subscribe: %v", err)
	}
	bobIn, err := bob.Subscribe(ctx)
	if err != nil {
		t.Fatalf("bob subscribe: %v", err)
	}

	if err := alice.Publish(ctx, wire.New("alice", wire.SubtopicConnect, wire.ConnectData{})); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case env := <-bobIn:
		if env.Sender != "alice" {
			t.Fatalf("expected envelope from alice, got %s", env.Sender)
		}
	case <-time.After(time.Second):
		t.Fatal("bob never received alice's announce")
	}

	select {
	case env := <-aliceIn:
		t.Fatalf("alice should not see her own publish, got %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishSkipsCompressionBelowThresholdAndDecodesAsRawJSON(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newMemTransport()
	alice := New(bus, &ZstdCodec{}, "room.v1", "alice")
	bob := New(bus, &ZstdCodec{}, "room.v1", "bob")

	bobIn, err := bob.Subscribe(ctx)
	if err != nil {
		t.Fatalf("bob subscribe: %v", err)
	}

	small := wire.New("alice", wire.SubtopicConnect, wire.ConnectData{UserInfo: map[string]any{"displayName": "alice"}})
	if err := alice.Publish(ctx, small); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case env := <-bobIn:
		if env.Subtopic != wire.SubtopicConnect {
			t.Fatalf("unexpected subtopic %v", env.Subtopic)
		}
	case <-time.After(time.Second):
		t.Fatal("bob never received the small, uncompressed envelope")
	}
}

func TestPublishCompressesAtOrAboveThreshold(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newMemTransport()
	alice := New(bus, &ZstdCodec{}, "room.v1", "alice")
	bob := New(bus, &ZstdCodec{}, "room.v1", "bob")

	bobIn, err := bob.Subscribe(ctx)
	if err != nil {
		t.Fatalf("bob subscribe: %v", err)
	}

	big := make(map[string]any, 64)
	for i := 0; i < 64; i++ {
		big[fmt.Sprintf("field-%02d", i)] = "padding-to-cross-the-compression-threshold"
	}
	env := wire.New("alice", wire.SubtopicConnect, wire.ConnectData{UserInfo: big})
	raw, err := wire.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(raw) < defaultCompressionThreshold {
		t.Fatalf("test envelope is only %d bytes, want >= %d to exercise compression", len(raw), defaultCompressionThreshold)
	}
	if err := alice.Publish(ctx, env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-bobIn:
		if got.Sender != "alice" {
			t.Fatalf("expected envelope from alice, got %s", got.Sender)
		}
	case <-time.After(time.Second):
		t.Fatal("bob never received the large, compressed envelope")
	}
}

func TestAnnouncerFiresImmediatelyAndOnBurstTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := make(chan struct{}, 16)
	a := NewAnnouncer(ctx, func() bool { return false }, func() { ticks <- struct{}{} })
	defer a.Stop()

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("expected immediate tick on start")
	}

	select {
	case <-ticks:
	case <-time.After(4 * time.Second):
		t.Fatal("expected a burst tick within ~3s")
	}
}
