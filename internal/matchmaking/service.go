// Package matchmaking implements the Matchmaking Service (§4.7): a
// single global periodic task that matches each Matchmaking player's
// preferences against candidate servers and hands a match off to the
// Queueing Service's joinQueue, generalizing the teacher's single
// pollServers sweep (q3master_poller.go) from "probe every known
// server" to "probe only the candidates a given player already
// measured a ping to".
package matchmaking

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"matchqueue/internal/clock"
	"matchqueue/internal/config"
	"matchqueue/internal/metrics"
	"matchqueue/internal/player"
	"matchqueue/internal/probe"
)

// Prober is the subset of *probe.Prober the Matchmaking Service depends
// on, narrowed the same way queueing.Prober is.
type Prober interface {
	RequestInfo(ctx context.Context, target probe.Target, timeout time.Duration) (probe.ServerInfo, bool)
}

// QueueJoiner is the subset of *queueing.Service a successful match
// hands off to. Kept as an interface so matchmaking never imports the
// queueing package concretely, avoiding a cross-service dependency
// tighter than the single call §4.7 actually needs.
type QueueJoiner interface {
	JoinQueue(ctx context.Context, p *player.Player, ip string, port int, instanceID string) bool
}

type entry struct {
	player     *player.Player
	criteria   Criteria
	candidates []ServerCandidate
	enteredAt  time.Time
}

// Service is the Matchmaking Service.
type Service struct {
	prober  Prober
	queue   QueueJoiner
	cfg     config.Config
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*entry

	stopOnce sync.Once
	cancel   context.CancelFunc
}

// New builds a Matchmaking Service. Start must be called once to launch
// its periodic tick.
func New(prober Prober, queue QueueJoiner, cfg config.Config, clk clock.Clock, log *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		prober:  prober,
		queue:   queue,
		cfg:     cfg,
		clock:   clk,
		log:     log,
		metrics: m,
		entries: make(map[string]*entry),
	}
}

// EnterMatchmaking implements §4.7's enterMatchmaking. Preconditions:
// player is Connected.
func (s *Service) EnterMatchmaking(p *player.Player, criteria Criteria, candidates []ServerCandidate) bool {
	if p.State() != player.StateConnected {
		return false
	}
	p.SetState(player.StateMatchmaking)

	s.mu.Lock()
	s.entries[p.StableID] = &entry{
		player:     p,
		criteria:   criteria,
		candidates: candidates,
		enteredAt:  s.clock.Now(),
	}
	s.mu.Unlock()
	return true
}

// UpdateSearchPreferences replaces a Matchmaking player's criteria and
// candidate list without resetting its timeout clock.
func (s *Service) UpdateSearchPreferences(p *player.Player, criteria Criteria, candidates []ServerCandidate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[p.StableID]
	if !ok || p.State() != player.StateMatchmaking {
		return false
	}
	e.criteria = criteria
	e.candidates = candidates
	return true
}

// LeaveMatchmaking removes p from the pool and reverts it to Connected.
// No notification is sent, mirroring leaveQueue's silence in §4.6.
func (s *Service) LeaveMatchmaking(p *player.Player) {
	s.mu.Lock()
	_, ok := s.entries[p.StableID]
	delete(s.entries, p.StableID)
	s.mu.Unlock()
	if ok && p.State() == player.StateMatchmaking {
		p.SetState(player.StateConnected)
	}
}

// Start launches the periodic tick goroutine. Stop cancels it.
func (s *Service) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	go s.run(ctx)
}

// Stop ends the periodic tick.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

func (s *Service) run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.MatchmakingTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.tick(ctx)
		}
	}
}

// tick evaluates every Matchmaking player once, per §4.7.
func (s *Service) tick(ctx context.Context) {
	s.mu.Lock()
	snapshot := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		snapshot = append(snapshot, e)
	}
	s.mu.Unlock()

	now := s.clock.Now()
	for _, e := range snapshot {
		if e.player.State() != player.StateMatchmaking {
			s.forget(e.player.StableID)
			continue
		}
		if now.Sub(e.enteredAt) > s.cfg.MatchmakingTimeout {
			s.fail(ctx, e)
			continue
		}
		s.tryMatch(ctx, e)
	}
}

func (s *Service) tryMatch(ctx context.Context, e *entry) {
	probed := make([]rankedCandidate, 0, len(e.candidates))
	for _, c := range e.candidates {
		info, ok := s.prober.RequestInfo(ctx, probe.Target{IP: c.IP, Port: c.Port}, s.cfg.ProbeTimeout)
		if !ok {
			continue
		}
		probed = append(probed, rankedCandidate{candidate: c, info: info})
	}

	ranked := rank(e.criteria, probed)
	if len(ranked) == 0 {
		return
	}

	top := ranked[0]
	if s.queue.JoinQueue(ctx, e.player, top.candidate.IP, top.candidate.Port, "") {
		s.forget(e.player.StableID)
		if s.metrics != nil {
			s.metrics.MatchmakingOutcome.WithLabelValues("matched").Inc()
		}
		if e.player.Channel != nil {
			if err := e.player.Channel.MatchFound(ctx, top.candidate.IP, top.candidate.Port); err != nil {
				s.log.Warn("push MatchFound failed", zap.String("player", e.player.StableID), zap.Error(err))
			}
		}
	}
}

func (s *Service) fail(ctx context.Context, e *entry) {
	s.forget(e.player.StableID)
	e.player.SetState(player.StateConnected)
	if s.metrics != nil {
		s.metrics.MatchmakingOutcome.WithLabelValues("timeout").Inc()
	}
	if e.player.Channel != nil {
		if err := e.player.Channel.MatchmakingFailed(ctx, "Timeout"); err != nil {
			s.log.Warn("push MatchmakingFailed failed", zap.String("player", e.player.StableID), zap.Error(err))
		}
	}
}

func (s *Service) forget(stableID string) {
	s.mu.Lock()
	delete(s.entries, stableID)
	s.mu.Unlock()
}
