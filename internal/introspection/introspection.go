// Package introspection implements the Introspection API (§4.8): a
// read-only gin.Engine exposing the live GameServer registry for
// operators, generalizing the teacher's httpapi.handlers JSON dump of
// serverList into a filterable, per-server view over the new
// gameserver.Registry/player.Registry pair.
package introspection

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"matchqueue/internal/gameserver"
	"matchqueue/internal/player"
)

// ServerView is one GameServer as exposed by GET /queues, per §4.8's
// field list.
type ServerView struct {
	IP              string        `json:"ip"`
	Port            int           `json:"port"`
	InstanceID      string        `json:"instanceId"`
	ProcessingState string        `json:"processingState"`
	LastServerInfo  *ServerInfo   `json:"lastServerInfo,omitempty"`
	SpawnDate       string        `json:"spawnDate"`
	Players         []PlayerView `json:"players"`
}

// ServerInfo mirrors the fields of probe.ServerInfo worth surfacing to
// operators, kept as its own type so the wire shape doesn't drift with
// internal probe-protocol additions.
type ServerInfo struct {
	HostName       string `json:"hostName"`
	MapName        string `json:"mapName"`
	CurrentPlayers int    `json:"currentPlayers"`
	MaxClients     int    `json:"maxClients"`
}

// PlayerView is one queued/joining player as exposed per server.
type PlayerView struct {
	Name         string `json:"name"`
	State        string `json:"state"`
	JoinAttempts int    `json:"joinAttempts"`
	QueueTime    string `json:"queueTime"`
}

// Register mounts the introspection routes onto engine.
func Register(engine *gin.Engine, servers *gameserver.Registry, players *player.Registry) {
	engine.GET("/queues", func(c *gin.Context) {
		stateFilter := c.Query("state")
		out := make([]ServerView, 0)
		for _, srv := range servers.Snapshot() {
			if stateFilter != "" && string(srv.ProcessingState()) != stateFilter {
				continue
			}
			out = append(out, buildServerView(srv))
		}
		c.JSON(http.StatusOK, out)
	})

	engine.GET("/queues/:ip/:port", func(c *gin.Context) {
		port, err := strconv.Atoi(c.Param("port"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid port"})
			return
		}
		srv, ok := servers.Get(gameserver.Key(c.Param("ip"), port))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, buildServerView(srv))
	})
}

func buildServerView(srv *gameserver.GameServer) ServerView {
	view := ServerView{
		IP:              srv.IP,
		Port:            srv.Port,
		InstanceID:      srv.InstanceID,
		ProcessingState: string(srv.ProcessingState()),
		SpawnDate:       srv.SpawnedAt.Format("2006-01-02T15:04:05Z07:00"),
		Players:         []PlayerView{},
	}
	if info, ok := srv.LastServerInfo(); ok {
		view.LastServerInfo = &ServerInfo{
			HostName:       info.HostName,
			MapName:        info.MapName,
			CurrentPlayers: info.CurrentPlayers,
			MaxClients:     info.MaxClients,
		}
	}
	for _, entry := range srv.Queue.Snapshot() {
		p := entry.Item
		view.Players = append(view.Players, PlayerView{
			Name:         p.DisplayName,
			State:        string(p.State()),
			JoinAttempts: len(p.JoinAttempts()),
			QueueTime:    p.QueuedAt().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return view
}
