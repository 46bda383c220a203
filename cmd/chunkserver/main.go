package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pyropy/chunkfs/core/chunkserver"
	"github.com/pyropy/chunkfs/lib/logger"
	"github.com/pyropy/chunkfs/rpc/wire"
	"github.com/urfave/cli/v2"
)

var log, _ = logger.New("chunk-server")

func main() {
	app := &cli.App{
		Name:  "chunkserver",
		Usage: "integrity checked chunk storage node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address (SERVER_ADDR)"},
			&cli.StringFlag{Name: "advertise", Usage: "name announced to the coordinator (ADVERTISE_ADDR)"},
			&cli.StringFlag{Name: "master-addr", Usage: "coordinator address (MASTER_ADDR)"},
			&cli.StringFlag{Name: "chunk-path", Usage: "data directory (CHUNK_PATH)"},
			&cli.IntFlag{Name: "capacity", Usage: "number of chunks this node may hold (CAPACITY)"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalln("startup", "ERROR", err)
	}
}

func run(cliCtx *cli.Context) error {
	cfg, err := chunkserver.GetConfig()
	if err != nil {
		log.Errorw("startup", "error", "config error")
		return err
	}

	if cliCtx.IsSet("addr") {
		cfg.Server.Addr = cliCtx.String("addr")
	}
	if cliCtx.IsSet("advertise") {
		cfg.Server.Advertise = cliCtx.String("advertise")
	}
	if cliCtx.IsSet("master-addr") {
		cfg.Master.Addr = cliCtx.String("master-addr")
	}
	if cliCtx.IsSet("chunk-path") {
		cfg.Chunks.Path = cliCtx.String("chunk-path")
	}
	if cliCtx.IsSet("capacity") {
		cfg.Chunks.Capacity = cliCtx.Int("capacity")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chunkServer, err := chunkserver.NewChunkServer(ctx, cfg, log)
	if err != nil {
		log.Errorw("startup", "error", "failed to open chunk store", "path", cfg.Chunks.Path)
		return err
	}

	defer chunkServer.Close()

	api := chunkserver.NewAPI(chunkServer, log)
	srv, err := wire.Listen(cfg.Server.Addr, api.Handle, cfg.Net.IOTimeout, log)
	if err != nil {
		log.Errorw("startup", "error", "net listen failed")
		return err
	}

	name := cfg.Server.Advertise
	if name == "" {
		name = srv.Addr()
	}

	log.Infow("startup", "status", "chunkserver started", "address", srv.Addr(), "name", name, "chunks", chunkServer.Count())
	defer log.Infow("shutdown", "status", "chunkserver stopped", "address", srv.Addr())
	go srv.Serve(ctx)

	// a failed startup heartbeat is retried by the next tick
	err = chunkServer.Register(ctx, name)
	if err != nil {
		log.Warnw("startup", "error", "failed to register with coordinator", "master", cfg.Master.Addr, "err", err)
	}

	go chunkServer.StartHealthReport(ctx)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
	log.Infow("shutdown", "status", "chunkserver stopping", "address", srv.Addr())

	return nil
}
