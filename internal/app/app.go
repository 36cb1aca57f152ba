// Package app is the composition root: it owns every long-lived
// dependency (registries, probe socket, services) and exposes the
// Client->Server operation set from §4 as plain methods, the way the
// teacher's main.go wired servers.StartDiscovery/StartPolling/
// StartJanitor together but generalized from package-level globals to
// an explicit, constructible App.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"matchqueue/internal/channel"
	"matchqueue/internal/clock"
	"matchqueue/internal/config"
	"matchqueue/internal/gameserver"
	"matchqueue/internal/matchmaking"
	"matchqueue/internal/metrics"
	"matchqueue/internal/player"
	"matchqueue/internal/probe"
	"matchqueue/internal/queueing"
	"matchqueue/internal/webfront"
)

// App bundles every service the transport layer (HTTP handlers,
// websocket upgrades) calls into.
type App struct {
	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics

	Players     *player.Registry
	GameServers *gameserver.Registry

	Prober   *probe.Prober
	Webfront *webfront.Client

	Queueing    *queueing.Service
	Matchmaking *matchmaking.Service
}

// New builds and wires every dependency but starts none of the
// background loops; call Start to launch them.
func New(cfg config.Config, log *zap.Logger, m *metrics.Metrics) (*App, error) {
	prober, err := probe.Open(cfg.ProbeBindAddr, log, m)
	if err != nil {
		return nil, fmt.Errorf("open probe socket: %w", err)
	}

	wf := webfront.New(cfg.WebfrontBaseURL, cfg.WebfrontCacheTTL, cfg.WebfrontTimeout, log)

	clk := clock.Real{}
	gameServers := gameserver.NewRegistry(clk)
	players := player.NewRegistry()

	qsvc := queueing.New(gameServers, prober, wf, cfg, clk, log, m)
	msvc := matchmaking.New(prober, qsvc, cfg, clk, log, m)

	return &App{
		Config:      cfg,
		Log:         log,
		Metrics:     m,
		Players:     players,
		GameServers: gameServers,
		Prober:      prober,
		Webfront:    wf,
		Queueing:    qsvc,
		Matchmaking: msvc,
	}, nil
}

// Start launches the Matchmaking Service's periodic tick and the
// GameServer Registry's idle reaper. Per-server Queueing loops start
// lazily on first joinQueue, per §4.6.
func (a *App) Start(ctx context.Context) {
	a.Matchmaking.Start(ctx)
	tick := clock.Real{}.NewTicker(a.Config.IdleServerReapInterval)
	go gameserver.RunReaper(ctx, a.GameServers, tick, a.Log)
}

// Stop tears down every background loop and releases the probe socket.
func (a *App) Stop() {
	a.Matchmaking.Stop()
	a.Queueing.Stop()
	_ = a.Prober.Close()
}

// Connect implements the client-facing half of §4.4's getOrAdd: a new
// transport session registers a Player bound to ch. If a record for
// stableID already exists, it is returned with ok=false and the new
// session is to be aborted.
func (a *App) Connect(stableID, displayName string, ch channel.Channel) (*player.Player, bool) {
	return a.Players.GetOrAdd(stableID, displayName, ch)
}

// Disconnect implements §4.4's tryRemove plus the Queueing Service's
// synchronous dequeue-on-disconnect from §4.6.
func (a *App) Disconnect(ctx context.Context, p *player.Player) {
	a.Queueing.OnDisconnect(ctx, p)
	a.Matchmaking.LeaveMatchmaking(p)
	a.Players.TryRemove(p.StableID, p.Channel.ID())
}

// JoinQueue implements §4.6's joinQueue as a client-facing operation.
func (a *App) JoinQueue(ctx context.Context, p *player.Player, ip string, port int, instanceID string) bool {
	return a.Queueing.JoinQueue(ctx, p, ip, port, instanceID)
}

// LeaveQueue implements §4.6's leaveQueue.
func (a *App) LeaveQueue(ctx context.Context, p *player.Player) {
	a.Queueing.LeaveQueue(ctx, p)
}

// JoinAck implements §4.6's onJoinAck, the client's reply to NotifyJoin.
func (a *App) JoinAck(ctx context.Context, p *player.Player, success bool) error {
	return a.Queueing.OnJoinAck(ctx, p, success)
}

// SearchMatch implements §4.7's enterMatchmaking.
func (a *App) SearchMatch(p *player.Player, criteria matchmaking.Criteria, candidates []matchmaking.ServerCandidate) bool {
	return a.Matchmaking.EnterMatchmaking(p, criteria, candidates)
}

// UpdateSearchSession implements §4.7's updateSearchPreferences.
func (a *App) UpdateSearchSession(p *player.Player, criteria matchmaking.Criteria, candidates []matchmaking.ServerCandidate) bool {
	return a.Matchmaking.UpdateSearchPreferences(p, criteria, candidates)
}

// LeaveMatchmaking implements §4.7's leaveMatchmaking.
func (a *App) LeaveMatchmaking(p *player.Player) {
	a.Matchmaking.LeaveMatchmaking(p)
}
