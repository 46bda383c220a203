package client

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Master struct {
		Addr string `envconfig:"MASTER_ADDR" default:"localhost:1234"`
	}
	Store struct {
		Path string `envconfig:"STORE_PATH" default:".chunkfs"`
	}
	Cluster struct {
		Redundancy        string `envconfig:"REDUNDANCY" default:"replication"`
		ReplicationFactor int    `envconfig:"REPLICATION_FACTOR" default:"3"`
	}
	Chunks struct {
		Size int `envconfig:"CHUNK_SIZE" default:"65536"`
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
