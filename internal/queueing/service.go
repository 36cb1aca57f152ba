// Package queueing implements the Queueing Service (§4.6): the heart
// of the core. It generalizes the teacher's single pollServers/
// pollServer background loop (q3master_poller.go) from "one global
// sweep over every known server" into "one independently cancellable
// loop per GameServer", since §5 requires per-server progress
// independent of every other server's loop.
package queueing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"matchqueue/internal/channel"
	"matchqueue/internal/clock"
	"matchqueue/internal/config"
	"matchqueue/internal/errkind"
	"matchqueue/internal/gameserver"
	"matchqueue/internal/metrics"
	"matchqueue/internal/player"
	"matchqueue/internal/probe"
	"matchqueue/internal/webfront"
)

// Prober is the subset of *probe.Prober the Queueing Service depends
// on, narrowed to an interface so tests can script probe replies
// without a real UDP socket.
type Prober interface {
	RequestInfo(ctx context.Context, target probe.Target, timeout time.Duration) (probe.ServerInfo, bool)
}

// WebfrontClient is the subset of *webfront.Client the Queueing Service
// depends on.
type WebfrontClient interface {
	FetchInstance(ctx context.Context, instanceID string) []webfront.ServerStatus
}

// Service is the Queueing Service. All of its dependencies are passed
// in explicitly at construction, per the design notes' rejection of
// singleton-style registries/process-wide globals.
type Service struct {
	servers  *gameserver.Registry
	prober   Prober
	webfront WebfrontClient
	cfg      config.Config
	clock    clock.Clock
	log      *zap.Logger
	metrics  *metrics.Metrics

	// limiter bounds inbound JoinQueue calls, generalizing the
	// teacher's master.go per-IP token bucket from heartbeats to the
	// client-facing join path.
	limiter *rate.Limiter
}

// New builds a Queueing Service.
func New(servers *gameserver.Registry, prober Prober, wf WebfrontClient, cfg config.Config, clk clock.Clock, log *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		servers:  servers,
		prober:   prober,
		webfront: wf,
		cfg:      cfg,
		clock:    clk,
		log:      log,
		metrics:  m,
		limiter:  rate.NewLimiter(rate.Limit(50), 20),
	}
}

// JoinQueue implements §4.6's joinQueue operation.
func (s *Service) JoinQueue(ctx context.Context, p *player.Player, ip string, port int, instanceID string) bool {
	if !s.limiter.Allow() {
		s.log.Warn("joinQueue rate limited", zap.String("player", p.StableID))
		return false
	}

	switch p.State() {
	case player.StateConnected, player.StateMatchmaking:
	default:
		s.log.Debug("joinQueue rejected: invalid precondition state", zap.String("player", p.StableID), zap.String("state", string(p.State())))
		return false
	}

	server := s.servers.GetOrCreate(ip, port, instanceID)

	if server.Queue.Len() >= s.cfg.QueueHardCap {
		s.log.Info("joinQueue rejected: queue at hard cap", zap.String("server", server.Key()))
		return false
	}

	if _, ok := server.Queue.Enqueue(p); !ok {
		// Already queued on this exact server.
		return false
	}

	p.EnterQueue(server.Key(), s.clock.Now())
	if s.metrics != nil {
		s.metrics.QueueLength.WithLabelValues(server.Key()).Set(float64(server.Queue.Len()))
	}

	s.ensureProcessingLoop(ctx, server)
	s.notifyQueuePositions(ctx, server)
	return true
}

// LeaveQueue implements §4.6's leaveQueue operation: no notification is
// sent to the leaver.
func (s *Service) LeaveQueue(ctx context.Context, p *player.Player) {
	state := p.State()
	if state != player.StateQueued && state != player.StateJoining {
		return
	}
	server, ok := s.servers.Get(p.ServerKey())
	if !ok {
		return
	}
	s.dequeue(ctx, server, p, channel.ReasonUserLeave)
}

// OnDisconnect synchronously removes p from whatever queue it occupies,
// per §3's lifecycle ("their enqueued presence is removed synchronously
// with the disconnect") and §5's cancellation of any outstanding join
// dispatch for that player.
func (s *Service) OnDisconnect(ctx context.Context, p *player.Player) {
	switch p.State() {
	case player.StateQueued, player.StateJoining:
		server, ok := s.servers.Get(p.ServerKey())
		if ok {
			s.dequeue(ctx, server, p, channel.ReasonDisconnect)
		}
	default:
		p.SetState(player.StateDisconnected)
	}
}

// OnJoinAck implements §4.6's onJoinAck operation: the client's reply
// to a NotifyJoin.
func (s *Service) OnJoinAck(ctx context.Context, p *player.Player, success bool) error {
	if p.State() != player.StateJoining {
		return errkind.New(errkind.InvalidState, "onJoinAck", fmt.Errorf("player %s is not Joining", p.StableID))
	}
	server, ok := s.servers.Get(p.ServerKey())
	if !ok {
		return errkind.New(errkind.Internal, "onJoinAck", fmt.Errorf("player %s has no resolvable server", p.StableID))
	}
	if success {
		s.dequeue(ctx, server, p, channel.ReasonJoined)
		return nil
	}
	s.onJoinFailed(ctx, server, p)
	return nil
}

func (s *Service) ensureProcessingLoop(parent context.Context, server *gameserver.GameServer) {
	ctx, cancel := context.WithCancel(detach(parent))
	if !server.TryStartProcessing(cancel) {
		cancel()
		return
	}
	s.log.Info("starting processing loop", zap.String("server", server.Key()))
	go s.runLoop(ctx, server)
}

// detach keeps parent's values but drops both its deadline and its
// cancellation, since a per-server loop must outlive the single request
// that started it; only the cancel func ensureProcessingLoop wraps
// around it (invoked by Stop()) ends the loop.
func detach(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}

func (s *Service) waitPacing(ctx context.Context, pacing <-chan time.Time) bool {
	select {
	case <-ctx.Done():
		return false
	case <-pacing:
		return true
	}
}

// Stop cancels every currently running processing loop. Used at process
// shutdown.
func (s *Service) Stop() {
	for _, srv := range s.servers.Snapshot() {
		srv.Stop()
	}
}
