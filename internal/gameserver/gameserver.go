// Package gameserver implements the Game Server Registry and the
// GameServer aggregate (§3/§4.5), generalizing the teacher's
// map[string]*ServerEntry + single global serverMutex (q3master's
// servers.ServerEntry) into a registry of per-server aggregates each
// carrying their own mutex, per §5's locking requirement that a
// server's own processing loop never race a concurrent mutation of its
// fields with another server's loop.
package gameserver

import (
	"fmt"
	"sync"
	"time"

	"matchqueue/internal/player"
	"matchqueue/internal/probe"
	"matchqueue/internal/queue"
)

// ProcessingState is the per-server loop lifecycle from §3.
type ProcessingState string

const (
	Idle     ProcessingState = "Idle"
	Running  ProcessingState = "Running"
	Stopping ProcessingState = "Stopping"
	Stopped  ProcessingState = "Stopped"
)

// Key is the (ip, port) identity used by the registry map.
func Key(ip string, port int) string {
	return fmt.Sprintf("%s:%d", ip, port)
}

// GameServer is the per-(ip,port) aggregate from §3. Queue membership
// itself lives in the embedded Queue (internal/queue); this struct
// owns the remaining mutable fields the processing loop and request
// handlers share, each guarded by its own mutex per §4.5/§5.
type GameServer struct {
	IP         string
	Port       int
	InstanceID string
	SpawnedAt  time.Time
	Queue      *queue.Queue[*player.Player]

	mu                   sync.Mutex
	joiningCount         int
	lastServerInfo       *probe.ServerInfo
	lastSuccessfulPingAt time.Time
	actualPlayers        map[string]bool
	processingState      ProcessingState
	cancel               func()
}

// New builds an Idle GameServer.
func New(ip string, port int, instanceID string, now time.Time) *GameServer {
	return &GameServer{
		IP:              ip,
		Port:            port,
		InstanceID:      instanceID,
		SpawnedAt:       now,
		Queue:           queue.New[*player.Player](),
		processingState: Idle,
		actualPlayers:   make(map[string]bool),
	}
}

// Key returns this server's registry key.
func (s *GameServer) Key() string { return Key(s.IP, s.Port) }

func (s *GameServer) ProcessingState() ProcessingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processingState
}

func (s *GameServer) SetProcessingState(st ProcessingState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processingState = st
}

// TryStartProcessing transitions Idle/Stopped -> Running atomically,
// storing cancel for later Stop calls. Returns false if a loop is
// already Running or mid-Stopping.
func (s *GameServer) TryStartProcessing(cancel func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processingState == Running || s.processingState == Stopping {
		return false
	}
	s.processingState = Running
	s.cancel = cancel
	return true
}

// Stop requests cancellation of the processing loop, if one is running.
func (s *GameServer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	if s.processingState == Running {
		s.processingState = Stopping
	}
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *GameServer) JoiningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joiningCount
}

func (s *GameServer) IncJoiningCount() {
	s.mu.Lock()
	s.joiningCount++
	s.mu.Unlock()
}

func (s *GameServer) DecJoiningCount() {
	s.mu.Lock()
	if s.joiningCount > 0 {
		s.joiningCount--
	}
	s.mu.Unlock()
}

func (s *GameServer) LastServerInfo() (probe.ServerInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastServerInfo == nil {
		return probe.ServerInfo{}, false
	}
	return *s.lastServerInfo, true
}

func (s *GameServer) SetLastServerInfo(info probe.ServerInfo, pingedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastServerInfo = &info
	s.lastSuccessfulPingAt = pingedAt
}

// ClearLastServerInfo is used on a failed/timed-out probe, per §4.6
// step 5 and §7's "loop resets lastServerInfo to null and retries".
func (s *GameServer) ClearLastServerInfo() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastServerInfo = nil
}

func (s *GameServer) LastSuccessfulPingAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSuccessfulPingAt
}

// SetActualPlayers replaces the set of display names observed via the
// web-front cross-check.
func (s *GameServer) SetActualPlayers(names map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actualPlayers = names
}

// HasActualPlayer reports whether name was present in the last
// web-front cross-check.
func (s *GameServer) HasActualPlayer(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actualPlayers[name]
}
