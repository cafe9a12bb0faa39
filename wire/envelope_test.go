package wire

import "testing"

func TestEnvelopeRoundTrip(t *testing.T) {
	e := New("alice", SubtopicConnect, ConnectData{UserInfo: map[string]any{"avatarHash": "abc"}})
	b, err := Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Sender != e.Sender || got.Subtopic != e.Subtopic || got.Timestamp != e.Timestamp {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, e)
	}
}

func TestIdentityCodecRoundTrip(t *testing.T) {
	var c IdentityCodec
	in := []byte(`{"sender":"bob"}`)
	enc, err := c.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, err := c.Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(dec) != string(in) {
		t.Fatalf("got %q want %q", dec, in)
	}
}
