package introspection

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchqueue/internal/channel"
	"matchqueue/internal/clock"
	"matchqueue/internal/gameserver"
	"matchqueue/internal/player"
	"matchqueue/internal/probe"
)

func newTestEngine(t *testing.T) (*gin.Engine, *gameserver.Registry) {
	gin.SetMode(gin.TestMode)
	servers := gameserver.NewRegistry(clock.Real{})
	players := player.NewRegistry()
	engine := gin.New()
	Register(engine, servers, players)
	return engine, servers
}

func TestListQueuesFiltersByState(t *testing.T) {
	engine, servers := newTestEngine(t)
	idle := servers.GetOrCreate("1.1.1.1", 1000, "idle-inst")
	_ = idle
	running := servers.GetOrCreate("2.2.2.2", 2000, "running-inst")
	require.True(t, running.TryStartProcessing(func() {}))

	req := httptest.NewRequest(http.MethodGet, "/queues?state=Running", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var out []ServerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "2.2.2.2", out[0].IP)
	assert.Equal(t, "Running", out[0].ProcessingState)
}

func TestGetSingleQueueIncludesPlayersAndServerInfo(t *testing.T) {
	engine, servers := newTestEngine(t)
	srv := servers.GetOrCreate("3.3.3.3", 3000, "inst-1")
	srv.SetLastServerInfo(probe.ServerInfo{HostName: "arena", CurrentPlayers: 4, MaxClients: 12}, time.Now())

	p := player.New("A", "Alice", channel.NewFake("chA"))
	p.EnterQueue(srv.Key(), time.Now())
	srv.Queue.Enqueue(p)

	req := httptest.NewRequest(http.MethodGet, "/queues/3.3.3.3/3000", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var out ServerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotNil(t, out.LastServerInfo)
	assert.Equal(t, "arena", out.LastServerInfo.HostName)
	require.Len(t, out.Players, 1)
	assert.Equal(t, "Alice", out.Players[0].Name)
	assert.Equal(t, "Queued", out.Players[0].State)
}

func TestGetSingleQueueReturnsNotFound(t *testing.T) {
	engine, _ := newTestEngine(t)

	req := httptest.NewRequest(http.MethodGet, "/queues/9.9.9.9/1", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
