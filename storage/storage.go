// Package storage defines the persistent key/value capability consumed by
// the identity layer, plus a default modernc.org/sqlite implementation in
// storage/sqlite.
package storage

// Store is the narrow persistence capability the engine depends on. Keys
// used by the identity layer: "privateKeyString", "publicKeyString",
// "knownHostsStrings", "name".
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
}
