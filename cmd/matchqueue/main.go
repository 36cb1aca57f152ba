// Command matchqueue is the process entry point: it wires config,
// logging, metrics, and every service into an app.App, mounts the
// websocket and introspection endpoints, and serves until signalled to
// stop, generalizing the teacher's main.go composition of
// servers.StartDiscovery/StartPolling/StartJanitor + httpapi handlers.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"matchqueue/internal/app"
	"matchqueue/internal/channel"
	"matchqueue/internal/config"
	"matchqueue/internal/introspection"
	"matchqueue/internal/logging"
	"matchqueue/internal/matchmaking"
	"matchqueue/internal/metrics"
	"matchqueue/internal/player"
)

func main() {
	cfg := config.FromEnv()

	log, err := logging.New(os.Getenv("MATCHQUEUE_DEV") == "1")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	a, err := app.New(cfg, log, m)
	if err != nil {
		log.Fatal("build app", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	defer a.Stop()

	engine := gin.New()
	engine.Use(gin.Recovery())
	introspection.Register(engine, a.GameServers, a.Players)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	engine.GET("/ws", func(c *gin.Context) { serveWebsocket(c.Writer, c.Request, a, log) })

	srv := &http.Server{Addr: cfg.IntrospectionAddr, Handler: engine}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientMessage is the inbound half of the Client Channel wire format:
// a typed envelope the read loop below dispatches into app.App's
// Client->Server operations.
type clientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func serveWebsocket(w http.ResponseWriter, r *http.Request, a *app.App, log *zap.Logger) {
	stableID := r.URL.Query().Get("stableId")
	displayName := r.URL.Query().Get("displayName")
	if stableID == "" {
		http.Error(w, "missing stableId", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ch := channel.NewWSChannel(conn)
	p, ok := a.Connect(stableID, displayName, ch)
	if !ok {
		log.Info("rejected duplicate session", zap.String("player", stableID))
		_ = conn.Close()
		return
	}

	ctx := r.Context()
	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		dispatch(ctx, a, p, msg, log)
	}
	a.Disconnect(ctx, p)
}

type joinQueuePayload struct {
	IP         string `json:"ip"`
	Port       int    `json:"port"`
	InstanceID string `json:"instanceId"`
}

type joinAckPayload struct {
	Success bool `json:"success"`
}

type searchCandidate struct {
	IP     string `json:"ip"`
	Port   int    `json:"port"`
	PingMS int    `json:"pingMs"`
}

type searchMatchPayload struct {
	MaxPingMS          int               `json:"maxPingMs"`
	MinPlayers         int               `json:"minPlayers"`
	MaxScore           int               `json:"maxScore"`
	MaxPlayersOnServer int               `json:"maxPlayersOnServer"`
	TryFreshGamesFirst bool              `json:"tryFreshGamesFirst"`
	Candidates         []searchCandidate `json:"candidates"`
}

func (p searchMatchPayload) toCriteria() (matchmaking.Criteria, []matchmaking.ServerCandidate) {
	criteria := matchmaking.Criteria{
		MaxPing:            time.Duration(p.MaxPingMS) * time.Millisecond,
		MinPlayers:         p.MinPlayers,
		MaxScore:           p.MaxScore,
		MaxPlayersOnServer: p.MaxPlayersOnServer,
		TryFreshGamesFirst: p.TryFreshGamesFirst,
	}
	candidates := make([]matchmaking.ServerCandidate, 0, len(p.Candidates))
	for _, c := range p.Candidates {
		candidates = append(candidates, matchmaking.ServerCandidate{
			IP:   c.IP,
			Port: c.Port,
			Ping: time.Duration(c.PingMS) * time.Millisecond,
		})
	}
	return criteria, candidates
}

// dispatch decodes one inbound Client Channel message and routes it to
// the matching app.App operation.
func dispatch(ctx context.Context, a *app.App, p *player.Player, msg clientMessage, log *zap.Logger) {
	switch msg.Type {
	case "join_queue":
		var payload joinQueuePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Warn("decode join_queue payload", zap.Error(err))
			return
		}
		a.JoinQueue(ctx, p, payload.IP, payload.Port, payload.InstanceID)
	case "leave_queue":
		a.LeaveQueue(ctx, p)
	case "join_ack":
		var payload joinAckPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Warn("decode join_ack payload", zap.Error(err))
			return
		}
		if err := a.JoinAck(ctx, p, payload.Success); err != nil {
			log.Warn("join_ack rejected", zap.String("player", p.StableID), zap.Error(err))
		}
	case "search_match":
		var payload searchMatchPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Warn("decode search_match payload", zap.Error(err))
			return
		}
		criteria, candidates := payload.toCriteria()
		a.SearchMatch(p, criteria, candidates)
	case "update_search_session":
		var payload searchMatchPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Warn("decode update_search_session payload", zap.Error(err))
			return
		}
		criteria, candidates := payload.toCriteria()
		a.UpdateSearchSession(p, criteria, candidates)
	case "leave_matchmaking":
		a.LeaveMatchmaking(p)
	default:
		log.Debug("unknown client message type", zap.String("type", msg.Type))
	}
}
