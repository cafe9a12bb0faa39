// Package config is the ambient configuration layer: a plain JSON
// document with defaults, validation, and load/save/ensure helpers.
// Grounded directly on the teacher's internal/config/config.go — same
// Default/Validate/Load/Save/Ensure shape, same "start from Default() so
// missing JSON fields stay initialized" merge idiom — trimmed of the
// rendezvous/site/viewer fields that have no SPEC_FULL.md analogue and
// expanded with the room/trust/media fields this module actually needs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the full on-disk configuration for one CoreClient instance.
type Config struct {
	Identity Identity `json:"identity"`
	P2P      P2P      `json:"p2p"`
	Room     Room     `json:"room"`
	Trust    Trust    `json:"trust"`
	Storage  Storage  `json:"storage"`
	Media    Media    `json:"media"`
	Profile  Profile  `json:"profile"`
}

// Identity holds the path to the persisted signing keypair.
type Identity struct {
	KeyFile string `json:"key_file"`
}

// P2P configures the default libp2p-backed pubsub transport.
type P2P struct {
	ListenPort int    `json:"listen_port"`
	MdnsTag    string `json:"mdns_tag"`
}

// Room names the pub/sub topic peers rendezvous on.
type Room struct {
	Topic string `json:"topic"`
}

// Trust names one of the built-in trust.Preset mappings by name.
type Trust struct {
	Preset string `json:"preset"`
}

// Storage configures the persistent key/value store location.
type Storage struct {
	Dir string `json:"dir"`
}

// Media configures ICE servers used for both the session's direct
// connection and any MediaSubSession's dedicated connection.
type Media struct {
	ICEServers []ICEServer `json:"ice_servers"`
}

// ICEServer is one STUN/TURN server entry.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Profile holds the locally chosen bare display name.
type Profile struct {
	DisplayName string `json:"display_name"`
}

// ValidTrustPresets enumerates the names Trust.Preset may take.
var ValidTrustPresets = []string{"strict", "moderate", "lax", "reject_all", "always_prompt", "unsafe"}

// Default returns the out-of-the-box configuration.
func Default() Config {
	return Config{
		Identity: Identity{KeyFile: "data/identity.key"},
		P2P:      P2P{ListenPort: 0, MdnsTag: "parlor-mdns"},
		Room:     Room{Topic: "parlor.room.v1"},
		Trust:    Trust{Preset: "moderate"},
		Storage:  Storage{Dir: "data"},
		Media: Media{ICEServers: []ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}},
		Profile: Profile{DisplayName: ""},
	}
}

// Validate checks every field for well-formedness. It does not check
// whether DisplayName is set — an empty DisplayName passes validation.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Identity.KeyFile) == "" {
		return errors.New("identity.key_file is required")
	}
	if c.P2P.ListenPort < 0 || c.P2P.ListenPort > 65535 {
		return errors.New("p2p.listen_port must be 0..65535")
	}
	if strings.TrimSpace(c.P2P.MdnsTag) == "" {
		return errors.New("p2p.mdns_tag is required")
	}
	if strings.TrimSpace(c.Room.Topic) == "" {
		return errors.New("room.topic is required")
	}
	if !validPreset(c.Trust.Preset) {
		return fmt.Errorf("trust.preset must be one of %v", ValidTrustPresets)
	}
	if strings.TrimSpace(c.Storage.Dir) == "" {
		return errors.New("storage.dir is required")
	}
	for i, s := range c.Media.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("media.ice_servers[%d].urls is required", i)
		}
	}
	return nil
}

func validPreset(name string) bool {
	for _, p := range ValidTrustPresets {
		if p == name {
			return true
		}
	}
	return false
}

// Load reads and validates a config file at path, starting from Default()
// so missing JSON fields keep their defaults.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save validates and writes cfg to path as indented JSON, creating parent
// directories as needed.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return writeJSONFile(path, cfg)
}

// Ensure loads the config at path if present, otherwise writes and
// returns a fresh default config. The bool result reports whether a new
// file was created.
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}

func writeJSONFile(path string, v any) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
