// Package cryptocap defines the Crypto capability interface consumed by the
// identity layer, and a default RSA-PSS/JWK implementation.
package cryptocap

import "crypto/rsa"

// KeyPair is an opaque signing keypair handed back by GenerateSigningKeypair.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// Provider is the narrow capability interface the identity layer depends
// on. An embedder may substitute a hardware-backed or otherwise custom
// implementation; the default below satisfies it with stdlib crypto/rsa.
type Provider interface {
	GenerateSigningKeypair() (*KeyPair, error)
	Sign(priv *rsa.PrivateKey, message []byte) ([]byte, error)
	Verify(pub *rsa.PublicKey, message, signature []byte) bool
	RandomBytes(n int) ([]byte, error)
	ExportKey(kp *KeyPair) (publicJWK, privateJWK string, err error)
	ImportKey(privateJWK string) (*KeyPair, error)
	ImportPublicKey(publicJWK string) (*rsa.PublicKey, error)
}
