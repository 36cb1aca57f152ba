package probe

import "time"

// ServerInfo is a parsed probe reply, per §3.
type ServerInfo struct {
	HostName       string
	MapName        string
	GameType       string
	CurrentPlayers int // includes bots
	Bots           int
	MaxClients     int
	IsPrivate      bool
	Score          int
	Ping           time.Duration
	ChallengeEcho  string
}

// RealPlayers is CurrentPlayers minus Bots.
func (s ServerInfo) RealPlayers() int {
	n := s.CurrentPlayers - s.Bots
	if n < 0 {
		return 0
	}
	return n
}

// FreeSlots is max(0, MaxClients-CurrentPlayers).
func (s ServerInfo) FreeSlots() int {
	n := s.MaxClients - s.CurrentPlayers
	if n < 0 {
		return 0
	}
	return n
}

func parseServerInfo(kv map[string]string, ping time.Duration) ServerInfo {
	return ServerInfo{
		HostName:       kv["hostname"],
		MapName:        kv["mapname"],
		GameType:       kv["gametype"],
		CurrentPlayers: atoiOr(kv["clients"], 0),
		Bots:           atoiOr(kv["bots"], 0),
		MaxClients:     atoiOr(kv["sv_maxclients"], 0),
		IsPrivate:      atobOr(kv["sv_privateClients"], false),
		Score:          atoiOr(kv["score"], 0),
		Ping:           ping,
		ChallengeEcho:  kv["challenge"],
	}
}
