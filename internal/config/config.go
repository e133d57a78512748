// Package config defines the nested settings struct every subsystem reads
// its tunables from, grounded on the teacher's internal/config/config.go
// nesting style (one sub-struct per subsystem, a single Default(), a
// Validate() that runs before Load/Save commit anything to disk).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/swarmcast/meshcore/internal/util"
)

type Config struct {
	Peer   Peer   `json:"peer"`
	Mesh   Mesh   `json:"mesh"`
	Gossip Gossip `json:"gossip"`
	Media  Media  `json:"media"`
	Signal Signal `json:"signal"`
}

// Peer identifies this node on the mesh.
type Peer struct {
	ID string `json:"id"`
}

// Mesh tunes the forwarding layer (spec §4.2-4.3).
type Mesh struct {
	TTL          int           `json:"ttl"`
	QueueTimeout time.Duration `json:"queue_timeout"`
	RetryTick    time.Duration `json:"retry_tick"`
}

// Gossip tunes the random peer sampling engine (spec §5).
type Gossip struct {
	ViewCapacity int           `json:"view_capacity"` // C
	Healing      int           `json:"healing"`       // H
	Swap         int           `json:"swap"`          // S
	Period       time.Duration `json:"period"`
	Policy       string        `json:"policy"` // "random" or "oldest"
}

// Media tunes segmented fetching (spec §6).
type Media struct {
	DownloadTimeout time.Duration `json:"download_timeout"`
	ConcurrentParts int           `json:"concurrent_parts"`
	ChunkSize       int           `json:"chunk_size"`
}

// Signal configures the rendezvous/signaling endpoint used to bootstrap
// the first connection before any mesh route exists.
type Signal struct {
	URL string `json:"url"`
}

// Default returns the spec-mandated defaults: ttl=3, queueTimeout=1000ms,
// retryTick=1000ms, C=10, H=0, S=0, gossipPeriod=2500ms,
// downloadTimeout=5000ms, concurrentParts=3, chunkSize=17500.
func Default() Config {
	return Config{
		Peer: Peer{ID: ""},
		Mesh: Mesh{
			TTL:          3,
			QueueTimeout: 1000 * time.Millisecond,
			RetryTick:    1000 * time.Millisecond,
		},
		Gossip: Gossip{
			ViewCapacity: 10,
			Healing:      0,
			Swap:         0,
			Period:       2500 * time.Millisecond,
			Policy:       "random",
		},
		Media: Media{
			DownloadTimeout: 5000 * time.Millisecond,
			ConcurrentParts: 3,
			ChunkSize:       17500,
		},
		Signal: Signal{URL: "ws://127.0.0.1:8787/ws"},
	}
}

func (c *Config) Validate() error {
	if c.Peer.ID != "" {
		if _, err := util.ValidatePeerID(c.Peer.ID); err != nil {
			return fmt.Errorf("peer.id: %w", err)
		}
	}

	if c.Mesh.TTL < 0 {
		return errors.New("mesh.ttl must be >= 0")
	}
	if c.Mesh.QueueTimeout <= 0 {
		return errors.New("mesh.queue_timeout must be > 0")
	}
	if c.Mesh.RetryTick <= 0 {
		return errors.New("mesh.retry_tick must be > 0")
	}

	if c.Gossip.ViewCapacity <= 0 {
		return errors.New("gossip.view_capacity must be > 0")
	}
	if c.Gossip.Healing < 0 || c.Gossip.Swap < 0 {
		return errors.New("gossip.healing and gossip.swap must be >= 0")
	}
	if c.Gossip.Healing+c.Gossip.Swap > c.Gossip.ViewCapacity {
		return errors.New("gossip.healing + gossip.swap must not exceed gossip.view_capacity")
	}
	if c.Gossip.Period <= 0 {
		return errors.New("gossip.period must be > 0")
	}
	if c.Gossip.Policy != "random" && c.Gossip.Policy != "oldest" {
		return errors.New(`gossip.policy must be "random" or "oldest"`)
	}

	if c.Media.DownloadTimeout <= 0 {
		return errors.New("media.download_timeout must be > 0")
	}
	if c.Media.ConcurrentParts <= 0 {
		return errors.New("media.concurrent_parts must be > 0")
	}
	if c.Media.ChunkSize <= 0 {
		return errors.New("media.chunk_size must be > 0")
	}

	if strings.TrimSpace(c.Signal.URL) == "" {
		return errors.New("signal.url is required")
	}

	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

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

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := util.WriteJSONFile(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
