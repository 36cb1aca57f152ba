// Package player implements the Player Registry (§4.4) and the Player
// aggregate (§3), generalizing the teacher's mutex-guarded
// map[string]*ServerEntry idiom (q3master's serverList/serverMutex) to
// map[stableId]*Player with getOrAdd/tryRemove semantics.
package player

import (
	"context"
	"sync"
	"time"

	"matchqueue/internal/channel"
)

// State is one of the Player lifecycle states from §3/§4.7.
type State string

const (
	StateConnected    State = "Connected"
	StateMatchmaking  State = "Matchmaking"
	StateQueued       State = "Queued"
	StateJoining      State = "Joining"
	StateJoined       State = "Joined"
	StateDisconnected State = "Disconnected"
)

// Player is the mutable per-session record described in §3. All
// mutation goes through the methods below, which hold the internal
// mutex; the per-GameServer processing loop is the only writer once a
// player is enqueued, but the Introspection API and disconnect path
// read/write concurrently, so the lock is still required.
type Player struct {
	StableID    string
	DisplayName string
	Channel     channel.Channel

	mu           sync.Mutex
	state        State
	serverKey    string // empty iff server == nil per the §3 invariant
	queuedAt     time.Time
	joinAttempts []time.Time
	joinCancel   context.CancelFunc // set while a NotifyJoin push for this player is in flight
}

// New builds a Player in the Connected state.
func New(stableID, displayName string, ch channel.Channel) *Player {
	return &Player{
		StableID:    stableID,
		DisplayName: displayName,
		Channel:     ch,
		state:       StateConnected,
	}
}

// QueueKey implements queue.Item.
func (p *Player) QueueKey() string { return p.StableID }

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Player) SetState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// CompareAndSwapState transitions state from old to new iff it is still
// old, reporting whether it applied. Used wherever a dispatched join
// attempt's eventual outcome might race a concurrent disconnect or
// leaveQueue that already moved the player away from old.
func (p *Player) CompareAndSwapState(old, new State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != old {
		return false
	}
	p.state = new
	return true
}

// ArmJoinCancel records cancel as the way to abort the NotifyJoin push
// currently in flight for p.
func (p *Player) ArmJoinCancel(cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joinCancel = cancel
}

// DisarmJoinCancel clears the recorded cancel func once its dispatch has
// run to completion, without invoking it.
func (p *Player) DisarmJoinCancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joinCancel = nil
}

// CancelPendingJoin aborts any NotifyJoin push currently in flight for
// p, per §5's "disconnect synchronously cancels any outstanding join
// dispatch". A no-op if no push is outstanding.
func (p *Player) CancelPendingJoin() {
	p.mu.Lock()
	cancel := p.joinCancel
	p.joinCancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ServerKey is the (ip, port) key of the GameServer the player is
// queued/joining on, or "" per the §3 invariant (server != nil iff
// state in {Queued, Joining}).
func (p *Player) ServerKey() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.serverKey
}

// EnterQueue atomically sets state=Queued, records the server key,
// stamps queuedAt, and resets joinAttempts, matching joinQueue's
// effects in §4.6.
func (p *Player) EnterQueue(serverKey string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateQueued
	p.serverKey = serverKey
	p.queuedAt = now
	p.joinAttempts = nil
}

// TryClaimDequeue atomically moves p out of whichever active queue
// state it currently holds (Joining or Queued) to finalState, clearing
// its server back-reference in the same locked step, and reports which
// state it claimed p from. It returns "" if p is in neither state,
// meaning a concurrent dequeue (or a Joining->Queued late-failure
// revert) already claimed p first — the caller must then leave p's
// queue/joiningCount bookkeeping alone, since whoever made that
// earlier claim owns it.
func (p *Player) TryClaimDequeue(finalState State) (claimedFrom State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StateJoining, StateQueued:
		claimedFrom = p.state
		p.state = finalState
		p.serverKey = ""
		return claimedFrom
	default:
		return ""
	}
}

func (p *Player) QueuedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queuedAt
}

// JoinAttempts returns a copy of the recorded attempt timestamps.
func (p *Player) JoinAttempts() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]time.Time, len(p.joinAttempts))
	copy(out, p.joinAttempts)
	return out
}

// RecordJoinAttempt appends now to joinAttempts, as the join-attempt
// procedure's first step in §4.6.
func (p *Player) RecordJoinAttempt(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joinAttempts = append(p.joinAttempts, now)
	return len(p.joinAttempts)
}

// ClearJoinAttempts resets joinAttempts, used only when the
// ClearJoinAttemptsOnRequeue config flag (the Open Question in §9) is set.
func (p *Player) ClearJoinAttempts() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joinAttempts = nil
}
