package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/petervdpas/peercall/internal/util"
)

type Config struct {
	Identity Identity `json:"identity"`
	Signal   Signal   `json:"signal"`
	Media    Media    `json:"media"`
	Call     Call     `json:"call"`
	Storage  Storage  `json:"storage"`
}

type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	PhotoURL    string `json:"photo_url"`
}

type Signal struct {
	// Websocket URL of the signaling server, e.g. ws://localhost:5000/ws.
	ServerURL string `json:"server_url"`

	ConnectTimeoutSec int `json:"connect_timeout_seconds"`
}

type Media struct {
	// STUN server URLs used for ICE. At least one is required.
	STUNServers []string `json:"stun_servers"`

	// Capture caps. Higher resolutions increase VP8 encoding latency.
	VideoMaxWidth  int `json:"video_max_width"`
	VideoMaxHeight int `json:"video_max_height"`
	VideoBitRate   int `json:"video_bit_rate"`

	// Skip video capture entirely (audio-only client).
	DisableVideo bool `json:"disable_video"`
}

type Call struct {
	// Seconds an unanswered inbound call rings before it is auto-rejected
	// and logged as missed. 0 disables the timeout.
	RingTimeoutSec int `json:"ring_timeout_seconds"`

	// Maximum call log entries kept in memory; oldest are dropped.
	HistoryLimit int `json:"history_limit"`
}

type Storage struct {
	// SQLite file for the contact store, relative to the data dir.
	ContactsDBFile string `json:"contacts_db_file"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			DisplayName: "anonymous",
		},
		Signal: Signal{
			ServerURL:         "ws://localhost:5000/ws",
			ConnectTimeoutSec: 10,
		},
		Media: Media{
			STUNServers:    []string{"stun:stun.l.google.com:19302"},
			VideoMaxWidth:  640,
			VideoMaxHeight: 480,
			VideoBitRate:   1_500_000,
		},
		Call: Call{
			RingTimeoutSec: 30,
			HistoryLimit:   200,
		},
		Storage: Storage{
			ContactsDBFile: "data/contacts.db",
		},
	}
}

func (c *Config) Validate() error {
	// Identity
	if strings.TrimSpace(c.Identity.ID) == "" {
		return errors.New("identity.id is required")
	}
	if strings.TrimSpace(c.Identity.DisplayName) == "" {
		return errors.New("identity.display_name is required")
	}

	// Signal
	su := strings.TrimSpace(c.Signal.ServerURL)
	if su == "" {
		return errors.New("signal.server_url is required")
	}
	u, err := url.Parse(su)
	if err != nil {
		return fmt.Errorf("signal.server_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("signal.server_url scheme must be ws or wss")
	}
	if u.Host == "" {
		return errors.New("signal.server_url is missing a host")
	}
	if c.Signal.ConnectTimeoutSec <= 0 {
		return errors.New("signal.connect_timeout_seconds must be > 0")
	}

	// Media
	if len(c.Media.STUNServers) == 0 {
		return errors.New("media.stun_servers must not be empty")
	}
	for _, s := range c.Media.STUNServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") {
			return fmt.Errorf("media.stun_servers entry %q must start with stun: or stuns:", s)
		}
	}
	if c.Media.VideoMaxWidth <= 0 || c.Media.VideoMaxHeight <= 0 {
		return errors.New("media.video_max_width and media.video_max_height must be > 0")
	}
	if c.Media.VideoBitRate <= 0 {
		return errors.New("media.video_bit_rate must be > 0")
	}

	// Call
	if c.Call.RingTimeoutSec < 0 {
		return errors.New("call.ring_timeout_seconds must be >= 0")
	}
	if c.Call.HistoryLimit <= 0 {
		return errors.New("call.history_limit must be > 0")
	}

	// Storage
	if strings.TrimSpace(c.Storage.ContactsDBFile) == "" {
		return errors.New("storage.contacts_db_file is required")
	}

	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadPartial reads a config file without validation. Useful for reading
// individual fields when full validation may fail.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	b = stripBOM(b)

	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file
// with the given identity. Returns (cfg, createdNew, err).
func Ensure(path string, identity Identity) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	cfg.Identity = identity
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
