// Package config centralizes the tunables the teacher scattered as
// literal constants (queue cap, probe timeout, pacing interval) into one
// explicit record, sourced from the environment the way main.go reads
// PORT, but passed around as a value rather than read ad hoc.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable named or implied by the core's design.
type Config struct {
	// IntrospectionAddr is where the read-only gin API listens.
	IntrospectionAddr string
	// ProbeBindAddr is the local UDP address the Game Server Probe binds.
	ProbeBindAddr string
	// WebfrontBaseURL is the base URL of the optional status cross-check API.
	WebfrontBaseURL string
	// ConfirmJoinsWithWebfrontAPI enables the §4.6 step 3 cross-check.
	ConfirmJoinsWithWebfrontAPI bool

	// QueueHardCap is the maximum queue length per game server (spec
	// suggests 20; made operator-configurable per the Open Question).
	QueueHardCap int
	// MaxJoinAttempts bounds per-player join attempts before MaxJoinAttemptsReached.
	MaxJoinAttempts int
	// TotalJoinTimeLimit bounds the whole join handshake across all attempts.
	TotalJoinTimeLimit time.Duration
	// PacingInterval is the per-server loop's tick period.
	PacingInterval time.Duration
	// ProbeTimeout bounds a single probe round trip.
	ProbeTimeout time.Duration
	// WebfrontTimeout bounds a single webfront HTTP fetch.
	WebfrontTimeout time.Duration
	// WebfrontCacheTTL is the short-TTL cache window for webfront lookups.
	WebfrontCacheTTL time.Duration
	// EmptyQueueSleep is the idle-queue backoff of loop step 1.
	EmptyQueueSleep time.Duration
	// IdleServerReapInterval is how often the registry sweeps for
	// Stopped, empty GameServers to evict.
	IdleServerReapInterval time.Duration
	// ClearJoinAttemptsOnRequeue resolves the Open Question left
	// commented out in the source; default false (do not clear).
	ClearJoinAttemptsOnRequeue bool

	// MatchmakingTickInterval is the Matchmaking Service's periodic tick.
	MatchmakingTickInterval time.Duration
	// MatchmakingTimeout is how long a player may sit in Matchmaking before MatchmakingFailed.
	MatchmakingTimeout time.Duration
}

// Default returns the spec's suggested defaults.
func Default() Config {
	return Config{
		IntrospectionAddr:           ":8080",
		ProbeBindAddr:               ":0",
		WebfrontBaseURL:             "",
		ConfirmJoinsWithWebfrontAPI: false,

		QueueHardCap:       20,
		MaxJoinAttempts:    3,
		TotalJoinTimeLimit: 30 * time.Second,
		PacingInterval:     1 * time.Second,
		ProbeTimeout:       10 * time.Second,
		WebfrontTimeout:    10 * time.Second,
		WebfrontCacheTTL:   2 * time.Second,
		EmptyQueueSleep:        100 * time.Millisecond,
		IdleServerReapInterval: 1 * time.Minute,

		ClearJoinAttemptsOnRequeue: false,

		MatchmakingTickInterval: 500 * time.Millisecond,
		MatchmakingTimeout:      60 * time.Second,
	}
}

// JoinAttemptDeadline is TotalJoinTimeLimit / MaxJoinAttempts, the
// per-attempt NotifyJoin deadline from §4.6.
func (c Config) JoinAttemptDeadline() time.Duration {
	if c.MaxJoinAttempts <= 0 {
		return c.TotalJoinTimeLimit
	}
	return c.TotalJoinTimeLimit / time.Duration(c.MaxJoinAttempts)
}

// FromEnv overlays environment variables onto Default, mirroring the
// teacher's os.Getenv("PORT") fallback pattern. Only the settings read
// below are overridable; every duration tunable keeps its default.
func FromEnv() Config {
	c := Default()
	if v := os.Getenv("MATCHQUEUE_INTROSPECTION_ADDR"); v != "" {
		c.IntrospectionAddr = v
	}
	if v := os.Getenv("MATCHQUEUE_PROBE_BIND_ADDR"); v != "" {
		c.ProbeBindAddr = v
	}
	if v := os.Getenv("MATCHQUEUE_WEBFRONT_BASE_URL"); v != "" {
		c.WebfrontBaseURL = v
	}
	if v := os.Getenv("MATCHQUEUE_CONFIRM_JOINS_WITH_WEBFRONT"); v != "" {
		c.ConfirmJoinsWithWebfrontAPI = v == "1" || v == "true"
	}
	if v := os.Getenv("MATCHQUEUE_QUEUE_HARD_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.QueueHardCap = n
		}
	}
	if v := os.Getenv("MATCHQUEUE_MAX_JOIN_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxJoinAttempts = n
		}
	}
	if v := os.Getenv("MATCHQUEUE_CLEAR_JOIN_ATTEMPTS_ON_REQUEUE"); v != "" {
		c.ClearJoinAttemptsOnRequeue = v == "1" || v == "true"
	}
	return c
}
