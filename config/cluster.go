package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DCConfig describes one datacenter's participation in the replication
// strategy: its name as known to the topology snitch, and the replication
// factor assigned to it when a keyspace is created.
type DCConfig struct {
	Name        string `yaml:"name"`
	Replication int    `yaml:"replication"`
}

// SeedConfig is one cluster seed the schema manager and RPC client dial at
// startup.
type SeedConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ClusterConfig is the static cluster topology: the keyspace name, the
// seed list used for schema agreement polling and RPC routing, and the two
// datacenters referenced by the network-topology-aware replication
// strategy (an analytics DC, which receives the real replication factor,
// and an OLTP DC, which this store never replicates into).
type ClusterConfig struct {
	Keyspace    string       `yaml:"keyspace"`
	Seeds       []SeedConfig `yaml:"seeds"`
	AnalyticsDC DCConfig     `yaml:"analytics_dc"`
	OLTPDC      DCConfig     `yaml:"oltp_dc"`
}

// LoadClusterConfig reads and parses a cluster topology file.
func LoadClusterConfig(path string) (*ClusterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading cluster file %s: %w", path, err)
	}

	var cc ClusterConfig
	if err := yaml.Unmarshal(data, &cc); err != nil {
		return nil, fmt.Errorf("config: parsing cluster file %s: %w", path, err)
	}
	if len(cc.Seeds) == 0 {
		return nil, fmt.Errorf("config: cluster file %s declares no seeds", path)
	}
	return &cc, nil
}

// ReplicationOptions builds the {"<analytics-DC>": R, "<oltp-DC>": 0}
// option map the schema manager passes to CreateKeyspace.
func (cc *ClusterConfig) ReplicationOptions(factor int) map[string]string {
	return map[string]string{
		cc.AnalyticsDC.Name: fmt.Sprintf("%d", factor),
		cc.OLTPDC.Name:      "0",
	}
}
