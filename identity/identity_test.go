package identity

import (
	"testing"

	"github.com/halvorsen/parlor/cryptocap"
	"github.com/halvorsen/parlor/parlorerr"
	"github.com/halvorsen/parlor/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(cryptocap.RSAProvider{}, storage.NewMemStore())
	if err := s.LoadOrGenerate(); err != nil {
		t.Fatalf("load or generate: %v", err)
	}
	return s
}

func TestLoadOrGenerateIsStableAcrossReload(t *testing.T) {
	backing := storage.NewMemStore()
	s1 := New(cryptocap.RSAProvider{}, backing)
	if err := s1.LoadOrGenerate(); err != nil {
		t.Fatalf("first load: %v", err)
	}
	s2 := New(cryptocap.RSAProvider{}, backing)
	if err := s2.LoadOrGenerate(); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if s1.PublicKeyString() != s2.PublicKeyString() {
		t.Fatalf("expected the same key to be recovered across reload")
	}
}

func TestSignVerifyChallengeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ch, err := s.NewChallenge()
	if err != nil {
		t.Fatalf("new challenge: %v", err)
	}
	if len(ch) != ChallengeLen {
		t.Fatalf("got challenge length %d want %d", len(ch), ChallengeLen)
	}
	sig, err := s.Sign(ch)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !s.Verify(s.PublicKeyString(), sig, ch) {
		t.Fatalf("expected signature to verify against own public key")
	}
	other, _ := s.NewChallenge()
	if s.Verify(s.PublicKeyString(), sig, other) {
		t.Fatalf("expected signature over a different challenge to fail")
	}
}

func TestBindRejectsCollisionUntilUnbind(t *testing.T) {
	s := newTestStore(t)
	if err := s.Bind("bob", "pk-B"); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	err := s.Bind("bob", "pk-X")
	if kind, ok := parlorerr.KindOf(err); !ok || kind != parlorerr.KindAliasCollision {
		t.Fatalf("expected AliasCollision, got %v", err)
	}
	if err := s.Unbind("bob"); err != nil {
		t.Fatalf("unbind: %v", err)
	}
	if err := s.Bind("bob", "pk-X"); err != nil {
		t.Fatalf("rebind after unbind: %v", err)
	}
}

func TestKnownNamesForReflectsBinding(t *testing.T) {
	s := newTestStore(t)
	if err := s.Bind("bob", "pk-B"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	names := s.KnownNamesFor("pk-B")
	if len(names) != 1 || names[0] != "bob" {
		t.Fatalf("got %v want [bob]", names)
	}
}

func TestValidateBareName(t *testing.T) {
	cases := []struct {
		name    string
		wantErr bool
	}{
		{"alice", false},
		{"", true},
		{" alice", true},
		{"alice ", true},
		{"ali(ce)", true},
		{"ali|ce", true},
	}
	for _, c := range cases {
		_, err := ValidateBareName(c.name)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidateBareName(%q): err=%v, wantErr=%v", c.name, err, c.wantErr)
		}
	}
}

func TestAnonymousNameNeverPersisted(t *testing.T) {
	s := newTestStore(t)
	if err := s.PersistName("anon123"); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if _, ok := s.PersistedName(); ok {
		t.Fatalf("expected anonymous name to not be persisted")
	}
}
