package coordinator

import (
	"context"

	"github.com/pyropy/chunkfs/rpc/wire"
	"go.uber.org/zap"
)

type Coordinator struct {
	*ClusterState
	*LivenessMonitor

	Cfg            *Config
	dialer         wire.Dialer
	recoveryDialer wire.Dialer
	log            *zap.SugaredLogger
}

func NewCoordinator(cfg *Config, log *zap.SugaredLogger) *Coordinator {
	c := &Coordinator{
		ClusterState: NewClusterState(cfg.TargetReplicas()),
		Cfg:          cfg,
		dialer: wire.Dialer{
			DialTimeout: cfg.Liveness.ProbeTimeout,
			IOTimeout:   cfg.Liveness.ProbeTimeout,
		},
		recoveryDialer: wire.Dialer{
			DialTimeout: cfg.Liveness.ProbeTimeout,
			IOTimeout:   cfg.Server.IOTimeout,
		},
		log: log,
	}

	c.LivenessMonitor = NewLivenessMonitor(c.ClusterState, c.probeNode, c.sendRecoveryWrite, cfg.Liveness.Interval, log)
	return c
}

// StartLivenessMonitor blocks, sweeping the cluster until ctx is done.
func (c *Coordinator) StartLivenessMonitor(ctx context.Context) {
	c.LivenessMonitor.Start(ctx)
}
