package wsbus

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHubBroadcastsBetweenTwoClients(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/"

	a, err := Dial(url)
	if err != nil {
		t.Fatalf("dial a: %v", err)
	}
	defer a.Close()
	b, err := Dial(url)
	if err != nil {
		t.Fatalf("dial b: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	bIn, err := b.Subscribe(ctx, "room.v1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for hub.ConnectionCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if err := a.Publish(ctx, "room.v1", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-bIn:
		if string(msg.Data) != "hello" {
			t.Fatalf("got %q, want hello", msg.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("b never received broadcast from a")
	}
}

func TestClientDoesNotReceiveItsOwnPublish(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(hub.Handler())
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/"

	a, err := Dial(url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	aIn, err := a.Subscribe(ctx, "room.v1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := a.Publish(ctx, "room.v1", []byte("self")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-aIn:
		t.Fatalf("client should not see its own broadcast, got %q", msg.Data)
	case <-time.After(100 * time.Millisecond):
	}
}
