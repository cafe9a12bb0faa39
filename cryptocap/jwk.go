package cryptocap

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
)

// jwk is the minimal JSON Web Key shape this store needs: RSA only, with
// the private exponent included when serializing a private key. Shape
// grounded on SAGE-X's crypto/formats/jwk.go RSA branch.
type jwk struct {
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
	D   string `json:"d,omitempty"`
	Kid string `json:"kid,omitempty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
}

// keyID derives a short identifier from the public modulus, matching
// SAGE-X's rs256.go convention (hex of the first 8 bytes of SHA-256(N)).
func keyID(pub *rsa.PublicKey) string {
	sum := sha256.Sum256(pub.N.Bytes())
	return hex.EncodeToString(sum[:8])
}

func exportJWK(kp *KeyPair, includePrivate bool) (string, error) {
	j := jwk{
		Kty: "RSA",
		Alg: "PS256",
		Use: "sig",
		Kid: keyID(kp.Public),
		N:   base64.RawURLEncoding.EncodeToString(kp.Public.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(kp.Public.E)).Bytes()),
	}
	if includePrivate {
		if kp.Private == nil {
			return "", errors.New("cryptocap: no private key to export")
		}
		j.D = base64.RawURLEncoding.EncodeToString(kp.Private.D.Bytes())
	}
	b, err := json.Marshal(j)
	return string(b), err
}

func importJWK(s string) (*KeyPair, error) {
	var j jwk
	if err := json.Unmarshal([]byte(s), &j); err != nil {
		return nil, err
	}
	if j.Kty != "RSA" {
		return nil, errors.New("cryptocap: unsupported key type " + j.Kty)
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, err
	}
	pub := &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}
	kp := &KeyPair{Public: pub}
	if j.D != "" {
		dBytes, err := base64.RawURLEncoding.DecodeString(j.D)
		if err != nil {
			return nil, err
		}
		kp.Private = &rsa.PrivateKey{
			PublicKey: *pub,
			D:         new(big.Int).SetBytes(dBytes),
		}
		// Precompute is best-effort: without the prime factors CRT fields
		// are unavailable, but rsa.SignPSS only requires D, N, E for the
		// raw modular exponentiation path it falls back to.
	}
	return kp, nil
}
