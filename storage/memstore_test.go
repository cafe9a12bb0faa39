package storage

import "testing"

func TestMemStoreGetSetRemove(t *testing.T) {
	s := NewMemStore()
	if _, ok, _ := s.Get("x"); ok {
		t.Fatalf("expected miss on empty store")
	}
	if err := s.Set("x", "1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := s.Get("x")
	if err != nil || !ok || v != "1" {
		t.Fatalf("got (%q,%v,%v) want (1,true,nil)", v, ok, err)
	}
	if err := s.Remove("x"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := s.Get("x"); ok {
		t.Fatalf("expected miss after remove")
	}
}
