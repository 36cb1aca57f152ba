package matchmaking

import (
	"sort"
	"time"

	"matchqueue/internal/probe"
)

// Criteria is §3's MatchSearchCriteria: the filter a candidate server
// must pass before it is even considered for ranking.
type Criteria struct {
	MaxPing            time.Duration
	MinPlayers         int
	MaxScore           int // -1 disables the score filter
	MaxPlayersOnServer int // <0 disables the upper-bound filter
	TryFreshGamesFirst bool
}

// ServerCandidate is one server the client already knows how to reach
// and has measured its own ping to, supplied at enterMatchmaking time.
type ServerCandidate struct {
	IP   string
	Port int
	Ping time.Duration
}

func (c Criteria) passes(candidatePing time.Duration, info probe.ServerInfo) bool {
	if candidatePing > c.MaxPing {
		return false
	}
	if info.RealPlayers() < c.MinPlayers {
		return false
	}
	if c.MaxPlayersOnServer >= 0 && info.RealPlayers() > c.MaxPlayersOnServer {
		return false
	}
	if c.MaxScore != -1 && info.Score > c.MaxScore {
		return false
	}
	return true
}

type rankedCandidate struct {
	candidate ServerCandidate
	info      probe.ServerInfo
}

// rank filters probed against criteria and orders the survivors by
// §4.7's tiebreak: tryFreshGamesFirst prefers fewer real players first,
// otherwise more real players first, then ascending ping.
func rank(criteria Criteria, probed []rankedCandidate) []rankedCandidate {
	survivors := make([]rankedCandidate, 0, len(probed))
	for _, c := range probed {
		if criteria.passes(c.candidate.Ping, c.info) {
			survivors = append(survivors, c)
		}
	}
	sort.SliceStable(survivors, func(i, j int) bool {
		pi, pj := survivors[i].info.RealPlayers(), survivors[j].info.RealPlayers()
		if pi != pj {
			if criteria.TryFreshGamesFirst {
				return pi < pj
			}
			return pi > pj
		}
		return survivors[i].candidate.Ping < survivors[j].candidate.Ping
	})
	return survivors
}
