package cryptocap

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	var p RSAProvider
	kp, err := p.GenerateSigningKeypair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	msg := []byte("01234567890123456789012345678901") // 32 bytes
	sig, err := p.Sign(kp.Private, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !p.Verify(kp.Public, msg, sig) {
		t.Fatalf("expected signature to verify")
	}
	other := []byte("98765432109876543210987654321098")
	if p.Verify(kp.Public, other, sig) {
		t.Fatalf("expected signature over different message to fail")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	var p RSAProvider
	kp, err := p.GenerateSigningKeypair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	pubJWK, privJWK, err := p.ExportKey(kp)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	imported, err := p.ImportKey(privJWK)
	if err != nil {
		t.Fatalf("import private: %v", err)
	}
	msg := []byte("abcdefghijabcdefghijabcdefghijab")
	sig, err := p.Sign(imported.Private, msg)
	if err != nil {
		t.Fatalf("sign with imported key: %v", err)
	}
	importedPub, err := p.ImportPublicKey(pubJWK)
	if err != nil {
		t.Fatalf("import public: %v", err)
	}
	if !p.Verify(importedPub, msg, sig) {
		t.Fatalf("expected signature from imported key to verify against imported public key")
	}
}

func TestRandomBytesLength(t *testing.T) {
	var p RSAProvider
	b, err := p.RandomBytes(32)
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	if len(b) != 32 {
		t.Fatalf("got %d bytes want 32", len(b))
	}
}
