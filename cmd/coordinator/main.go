package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pyropy/chunkfs/core/coordinator"
	"github.com/pyropy/chunkfs/lib/logger"
	"github.com/pyropy/chunkfs/rpc/wire"
	"github.com/urfave/cli/v2"
)

var log, _ = logger.New("coordinator")

func main() {
	app := &cli.App{
		Name:  "coordinator",
		Usage: "chunk placement and cluster membership service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address (COORDINATOR_ADDR)"},
			&cli.StringFlag{Name: "redundancy", Usage: "replication or erasure (REDUNDANCY)"},
			&cli.IntFlag{Name: "replication-factor", Usage: "target replicas per chunk (REPLICATION_FACTOR)"},
			&cli.DurationFlag{Name: "liveness-interval", Usage: "time between liveness sweeps (LIVENESS_INTERVAL)"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalln("startup", "ERROR", err)
	}
}

func run(cliCtx *cli.Context) error {
	cfg, err := coordinator.GetConfig()
	if err != nil {
		log.Errorw("startup", "error", "config error")
		return err
	}

	if cliCtx.IsSet("addr") {
		cfg.Server.Addr = cliCtx.String("addr")
	}
	if cliCtx.IsSet("redundancy") {
		cfg.Cluster.Redundancy = cliCtx.String("redundancy")
	}
	if cliCtx.IsSet("replication-factor") {
		cfg.Cluster.ReplicationFactor = cliCtx.Int("replication-factor")
	}
	if cliCtx.IsSet("liveness-interval") {
		cfg.Liveness.Interval = cliCtx.Duration("liveness-interval")
	}

	c := coordinator.NewCoordinator(cfg, log)
	api := coordinator.NewAPI(c, log)

	srv, err := wire.Listen(cfg.Server.Addr, api.Handle, cfg.Server.IOTimeout, log)
	if err != nil {
		log.Errorw("startup", "error", "net listen failed")
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Infow("startup", "status", "coordinator started", "address", srv.Addr(), "redundancy", cfg.Cluster.Redundancy, "replicationFactor", cfg.TargetReplicas())
	defer log.Infow("shutdown", "status", "coordinator stopped", "address", srv.Addr())

	go srv.Serve(ctx)

	log.Infow("startup", "status", "starting liveness monitor", "interval", cfg.Liveness.Interval)
	go c.StartLivenessMonitor(ctx)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
	log.Infow("shutdown", "status", "coordinator stopping", "address", srv.Addr())

	return nil
}
