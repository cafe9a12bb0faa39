package cryptocap

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
)

// keyBits is the modulus size spec.md §4.2 mandates for a freshly generated
// signing keypair.
const keyBits = 2048

// pssOptions pins the signature scheme's salt length to the 32 bytes
// spec.md §4.2 states explicitly, diverging from the PKCS#1v1.5 signing
// the grounding source (SAGE-X rs256.go) uses — see DESIGN.md.
var pssOptions = &rsa.PSSOptions{SaltLength: 32, Hash: crypto.SHA256}

// RSAProvider is the default Provider implementation: RSA-2048 keypairs,
// RSASSA-PSS/SHA-256 signatures with an explicit 32-byte salt.
type RSAProvider struct{}

func (RSAProvider) GenerateSigningKeypair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

func (RSAProvider) Sign(priv *rsa.PrivateKey, message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	return rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], pssOptions)
}

func (RSAProvider) Verify(pub *rsa.PublicKey, message, signature []byte) bool {
	digest := sha256.Sum256(message)
	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], signature, pssOptions) == nil
}

func (RSAProvider) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (RSAProvider) ExportKey(kp *KeyPair) (publicJWK, privateJWK string, err error) {
	publicJWK, err = exportJWK(kp, false)
	if err != nil {
		return "", "", err
	}
	privateJWK, err = exportJWK(kp, true)
	if err != nil {
		return "", "", err
	}
	return publicJWK, privateJWK, nil
}

func (RSAProvider) ImportKey(privateJWK string) (*KeyPair, error) {
	return importJWK(privateJWK)
}

func (RSAProvider) ImportPublicKey(publicJWK string) (*rsa.PublicKey, error) {
	kp, err := importJWK(publicJWK)
	if err != nil {
		return nil, err
	}
	return kp.Public, nil
}

var _ Provider = RSAProvider{}
