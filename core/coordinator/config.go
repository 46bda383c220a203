package coordinator

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pyropy/chunkfs/core/constants"
)

type Config struct {
	Server struct {
		Addr      string        `envconfig:"COORDINATOR_ADDR" default:":1234"`
		IOTimeout time.Duration `envconfig:"IO_TIMEOUT" default:"10s"`
	}
	Cluster struct {
		Redundancy        string `envconfig:"REDUNDANCY" default:"replication"`
		ReplicationFactor int    `envconfig:"REPLICATION_FACTOR" default:"3"`
	}
	Liveness struct {
		Interval     time.Duration `envconfig:"LIVENESS_INTERVAL" default:"30s"`
		ProbeTimeout time.Duration `envconfig:"PROBE_TIMEOUT" default:"2s"`
	}
}

func GetConfig() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// TargetReplicas is the number of holders placement aims for. Erasure shards
// are stored once each; their redundancy comes from the codec.
func (c *Config) TargetReplicas() int {
	if c.Cluster.Redundancy == constants.REDUNDANCY_ERASURE {
		return 1
	}

	if c.Cluster.ReplicationFactor < 1 {
		return 1
	}

	return c.Cluster.ReplicationFactor
}
