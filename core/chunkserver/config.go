package chunkserver

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pyropy/chunkfs/core/constants"
)

type Config struct {
	Server struct {
		Addr string `envconfig:"SERVER_ADDR" default:":9000"`
		// name announced to the coordinator, defaults to the listen address
		Advertise string `envconfig:"ADVERTISE_ADDR"`
	}
	Master struct {
		Addr string `envconfig:"MASTER_ADDR" default:"localhost:1234"`
	}
	Chunks struct {
		Path          string `envconfig:"CHUNK_PATH" default:"chunks"`
		Capacity      int    `envconfig:"CAPACITY" default:"10000"`
		SliceSize     int    `envconfig:"SLICE_SIZE" default:"8192"`
		HashCacheSize int    `envconfig:"HASH_CACHE_SIZE" default:"256"`
	}
	Cluster struct {
		Redundancy        string `envconfig:"REDUNDANCY" default:"replication"`
		ReplicationFactor int    `envconfig:"REPLICATION_FACTOR" default:"3"`
	}
	Heartbeat struct {
		Minor time.Duration `envconfig:"MINOR_HEARTBEAT_INTERVAL" default:"30s"`
		Major time.Duration `envconfig:"MAJOR_HEARTBEAT_INTERVAL" default:"300s"`
	}
	Net struct {
		DialTimeout time.Duration `envconfig:"DIAL_TIMEOUT" default:"2s"`
		IOTimeout   time.Duration `envconfig:"IO_TIMEOUT" default:"10s"`
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

// ValidationEnabled is false for a single unreplicated copy, where there is
// nothing to repair from.
func (c *Config) ValidationEnabled() bool {
	return c.Cluster.Redundancy == constants.REDUNDANCY_ERASURE || c.Cluster.ReplicationFactor > 1
}
