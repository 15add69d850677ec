package config

import (
	"encoding/json"
	"os"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// Config holds the node-local settings for the store: where its embedded
// column-store data lives, which RPC port it listens on, and the
// consistency/replication defaults applied when no caller override exists.
type Config struct {
	configFile string

	DataStore struct {
		MetadataPath string `json:"metadata"`
		BlockPath    string `json:"blocks"`
	} `json:"datastore"`

	RPC struct {
		Port int `json:"port"`
	} `json:"rpc"`

	// Consistency holds brisk.consistencylevel.read/write: the default
	// levels applied to reads and writes when the caller does not escalate.
	Consistency struct {
		Read  string `json:"read"`
		Write string `json:"write"`
	} `json:"consistency"`

	// Replication holds cfs.replication: the replication factor applied to
	// the analytics datacenter when a keyspace is created.
	Replication struct {
		Factor int `json:"factor"`
	} `json:"replication"`

	// ClusterFile points at the YAML seed-list/datacenter topology file
	// (see ClusterConfig) consulted at initialize time.
	ClusterFile string `json:"clusterFile"`
}

// NewEmptyConfig returns a Config with the spec's documented defaults:
// brisk.consistencylevel.read/write = QUORUM, cfs.replication = 1.
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}
	cfg.configFile = configFile

	cfg.DataStore.MetadataPath = "/tmp/distfs/metadata"
	cfg.DataStore.BlockPath = "/tmp/distfs/blocks"
	cfg.RPC.Port = 9160

	cfg.Consistency.Read = "QUORUM"
	cfg.Consistency.Write = "QUORUM"
	cfg.Replication.Factor = 1

	cfg.ClusterFile = "/etc/distfs/cluster.yaml"

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to its backing file as JSON.
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

// Load reads the configuration from its backing file, overwriting any
// defaults with whatever the file specifies.
func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	return nil
}
