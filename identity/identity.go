// Package identity owns the local long-lived signing keypair and the
// bare-name-to-public-key bindings, gating admission via signed
// challenges. Grounded on the teacher's internal/storage/peers.go
// upsert-bound-record pattern for persistence, and on
// SAGE-X-project-sage's JWK/RSA shape for the keypair itself (see
// cryptocap and DESIGN.md).
package identity

import (
	"encoding/json"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/halvorsen/parlor/cryptocap"
	"github.com/halvorsen/parlor/parlorerr"
	"github.com/halvorsen/parlor/storage"
)

var log = logging.Logger("parlor/identity")

const (
	keyPrivateKeyString = "privateKeyString"
	keyPublicKeyString  = "publicKeyString"
	keyKnownHosts       = "knownHostsStrings"
	keyName             = "name"
)

// ChallengeLen is the number of random bytes IdentityStore.NewChallenge
// returns (spec.md §4.2).
const ChallengeLen = 32

// Store owns the local keypair and the bare-name -> public-key-JWK
// bindings. All mutation of the binding map is serialized behind mu,
// matching spec.md §5's "IdentityStore is process-wide; its key-binding
// mutation is serialized" requirement.
type Store struct {
	provider cryptocap.Provider
	backing  storage.Store

	mu         sync.RWMutex
	keypair    *cryptocap.KeyPair
	publicJWK  string
	privateJWK string
	// knownHosts maps bare name -> public key JWK string.
	knownHosts map[string]string
}

// New constructs a Store. Call LoadOrGenerate before first use.
func New(provider cryptocap.Provider, backing storage.Store) *Store {
	return &Store{provider: provider, backing: backing, knownHosts: make(map[string]string)}
}

// LoadOrGenerate loads persisted key material from backing storage; if
// absent, generates a fresh signing keypair and persists it immediately.
func (s *Store) LoadOrGenerate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if priv, ok, err := s.backing.Get(keyPrivateKeyString); err != nil {
		return parlorerr.New(parlorerr.KindConfig, "load private key", err)
	} else if ok {
		kp, err := s.provider.ImportKey(priv)
		if err != nil {
			return parlorerr.New(parlorerr.KindConfig, "parse stored private key", err)
		}
		s.keypair = kp
		s.privateJWK = priv
		if pub, ok, err := s.backing.Get(keyPublicKeyString); err == nil && ok {
			s.publicJWK = pub
		} else {
			pubJWK, _, err := s.provider.ExportKey(kp)
			if err != nil {
				return parlorerr.New(parlorerr.KindConfig, "export recovered public key", err)
			}
			s.publicJWK = pubJWK
		}
	} else {
		kp, err := s.provider.GenerateSigningKeypair()
		if err != nil {
			return parlorerr.New(parlorerr.KindConfig, "generate signing keypair", err)
		}
		pubJWK, privJWK, err := s.provider.ExportKey(kp)
		if err != nil {
			return parlorerr.New(parlorerr.KindConfig, "export generated keypair", err)
		}
		if err := s.backing.Set(keyPrivateKeyString, privJWK); err != nil {
			return parlorerr.New(parlorerr.KindConfig, "persist private key", err)
		}
		if err := s.backing.Set(keyPublicKeyString, pubJWK); err != nil {
			return parlorerr.New(parlorerr.KindConfig, "persist public key", err)
		}
		s.keypair = kp
		s.publicJWK = pubJWK
		s.privateJWK = privJWK
		log.Info("generated a new signing keypair")
	}

	if raw, ok, err := s.backing.Get(keyKnownHosts); err == nil && ok {
		var hosts map[string]string
		if err := json.Unmarshal([]byte(raw), &hosts); err == nil {
			s.knownHosts = hosts
		}
	}
	return nil
}

// PublicKeyString returns the serialized JWK form of the local public key.
func (s *Store) PublicKeyString() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publicJWK
}

// Sign produces a detached signature over challenge using the local
// private key.
func (s *Store) Sign(challenge []byte) ([]byte, error) {
	s.mu.RLock()
	kp := s.keypair
	s.mu.RUnlock()
	if kp == nil {
		return nil, parlorerr.New(parlorerr.KindConfig, "identity not loaded", nil)
	}
	return s.provider.Sign(kp.Private, challenge)
}

// Verify checks signature over challenge against the public key encoded in
// publicKeyString.
func (s *Store) Verify(publicKeyString string, signature, challenge []byte) bool {
	pub, err := s.provider.ImportPublicKey(publicKeyString)
	if err != nil {
		return false
	}
	return s.provider.Verify(pub, challenge, signature)
}

// NewChallenge returns ChallengeLen uniformly random bytes.
func (s *Store) NewChallenge() ([]byte, error) {
	return s.provider.RandomBytes(ChallengeLen)
}

// KnownNamesFor returns the set of bare names currently bound to
// publicKeyString.
func (s *Store) KnownNamesFor(publicKeyString string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for name, key := range s.knownHosts {
		if key == publicKeyString {
			names = append(names, name)
		}
	}
	return names
}

// KeyForName returns the public key JWK bound to bareName, if any.
func (s *Store) KeyForName(bareName string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.knownHosts[bareName]
	return k, ok
}

// Bind records that bareName advertises publicKeyString. It fails with
// AliasCollision if publicKeyString is already bound to a different bare
// name, or if bareName is already bound to a different key — per
// DESIGN.md's resolution of the Open Question, rebind is an explicit
// administrative act, not an automatic silent overwrite. Call Unbind
// first to reassign.
func (s *Store) Bind(bareName, publicKeyString string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, key := range s.knownHosts {
		if key == publicKeyString && name != bareName {
			return parlorerr.New(parlorerr.KindAliasCollision,
				"public key already bound to a different bare name", nil)
		}
	}
	if existing, ok := s.knownHosts[bareName]; ok && existing != publicKeyString {
		return parlorerr.New(parlorerr.KindAliasCollision,
			"bare name already bound to a different public key", nil)
	}
	s.knownHosts[bareName] = publicKeyString
	return s.persistKnownHostsLocked()
}

// Unbind removes any binding recorded for bareName. Logged because
// rebind/unbind is an explicit administrative act.
func (s *Store) Unbind(bareName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.knownHosts[bareName]; !ok {
		return nil
	}
	log.Infow("unbinding name from known key", "name", bareName)
	delete(s.knownHosts, bareName)
	return s.persistKnownHostsLocked()
}

func (s *Store) persistKnownHostsLocked() error {
	b, err := json.Marshal(s.knownHosts)
	if err != nil {
		return err
	}
	return s.backing.Set(keyKnownHosts, string(b))
}

// PersistedName returns the previously persisted display name, if any and
// if it is not anonymous (anonymous names are never persisted, per
// spec.md §6).
func (s *Store) PersistedName() (string, bool) {
	name, ok, err := s.backing.Get(keyName)
	if err != nil || !ok || IsAnonymous(name) {
		return "", false
	}
	return name, true
}

// PersistName saves name as the display name unless it is anonymous.
func (s *Store) PersistName(name string) error {
	if IsAnonymous(name) {
		return nil
	}
	return s.backing.Set(keyName, name)
}
