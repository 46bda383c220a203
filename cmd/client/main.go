package main

import (
	"os"

	"github.com/pyropy/chunkfs/core/client"
	"github.com/pyropy/chunkfs/lib/logger"
	"github.com/urfave/cli/v2"
)

var log, _ = logger.New("client")

func main() {
	app := &cli.App{
		Name:  "client",
		Usage: "write and read files on a chunkfs cluster",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "master-addr", Usage: "coordinator address (MASTER_ADDR)"},
			&cli.StringFlag{Name: "store", Usage: "local metadata store path (STORE_PATH)"},
			&cli.StringFlag{Name: "redundancy", Usage: "replication or erasure (REDUNDANCY)"},
			&cli.IntFlag{Name: "replication-factor", Usage: "replicas per chunk (REPLICATION_FACTOR)"},
		},
		Commands: []*cli.Command{writeCmd, readCmd, listCmd},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

// newClient builds a client from the environment, overridden by flags.
func newClient(ctx *cli.Context) (*client.Client, error) {
	cfg, err := client.GetConfig()
	if err != nil {
		return nil, err
	}

	if ctx.IsSet("master-addr") {
		cfg.Master.Addr = ctx.String("master-addr")
	}
	if ctx.IsSet("store") {
		cfg.Store.Path = ctx.String("store")
	}
	if ctx.IsSet("redundancy") {
		cfg.Cluster.Redundancy = ctx.String("redundancy")
	}
	if ctx.IsSet("replication-factor") {
		cfg.Cluster.ReplicationFactor = ctx.Int("replication-factor")
	}

	return client.NewClient(cfg, log)
}
