package queueing

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"

	"matchqueue/internal/channel"
	"matchqueue/internal/gameserver"
	"matchqueue/internal/player"
	"matchqueue/internal/probe"
	"matchqueue/internal/webfront"
)

// runLoop is the per-server processing loop from §4.6, started lazily
// by ensureProcessingLoop and run until ctx is cancelled by Stop().
func (s *Service) runLoop(ctx context.Context, server *gameserver.GameServer) {
	defer func() {
		server.SetProcessingState(gameserver.Stopped)
		s.log.Info("processing loop stopped", zap.String("server", server.Key()))
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		// Step 1: idle backoff when there's nothing to do.
		if server.Queue.Len() == 0 {
			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(s.cfg.EmptyQueueSleep):
			}
			continue
		}

		// Step 2: start this iteration's pacing timer.
		pacing := s.clock.After(s.cfg.PacingInterval)

		// Step 3: optional web-front cross-check.
		if s.cfg.ConfirmJoinsWithWebfrontAPI && server.JoiningCount() > 0 {
			s.crossCheckWebfront(ctx, server)
		}

		// Step 4: everything queued is already mid-join; nothing to dispatch.
		if server.JoiningCount() == server.Queue.Len() {
			if !s.waitPacing(ctx, pacing) {
				return
			}
			continue
		}

		// Step 5: probe the server.
		info, ok := s.prober.RequestInfo(ctx, probe.Target{IP: server.IP, Port: server.Port}, s.cfg.ProbeTimeout)
		if ok {
			server.SetLastServerInfo(info, s.clock.Now())
		} else {
			server.ClearLastServerInfo()
		}

		// Step 6: timeout checks and join dispatch.
		s.processQueueIteration(ctx, server)

		if s.metrics != nil {
			s.metrics.QueueLength.WithLabelValues(server.Key()).Set(float64(server.Queue.Len()))
			s.metrics.JoiningCount.WithLabelValues(server.Key()).Set(float64(server.JoiningCount()))
		}

		// Step 7: wait out the remainder of the pacing timer.
		if !s.waitPacing(ctx, pacing) {
			return
		}
	}
}

// crossCheckWebfront implements §4.6 step 3: players confirmed present
// on the web-front are marked Joined; if the web-front result has no
// entry for this server, every Joining player is assumed to have joined
// rather than stalling the pipeline on an unreachable web-front.
func (s *Service) crossCheckWebfront(ctx context.Context, server *gameserver.GameServer) {
	statuses := s.webfront.FetchInstance(ctx, server.InstanceID)
	names, hadData := webfront.ActualPlayerNames(statuses, server.IP, server.Port)

	snapshot := server.Queue.Snapshot()
	if hadData {
		server.SetActualPlayers(names)
		for _, entry := range snapshot {
			p := entry.Item
			if p.State() == player.StateJoining && names[p.DisplayName] {
				s.dequeue(ctx, server, p, channel.ReasonJoined)
			}
		}
		return
	}

	for _, entry := range snapshot {
		p := entry.Item
		if p.State() == player.StateJoining {
			s.dequeue(ctx, server, p, channel.ReasonJoined)
		}
	}
}

// processQueueIteration is §4.6 step 6: dequeue Joining players whose
// first attempt is older than TotalJoinTimeLimit and dispatch fresh join attempts to Queued players up
// to nonReservedFreeSlots, in queue order.
func (s *Service) processQueueIteration(ctx context.Context, server *gameserver.GameServer) {
	info, hasInfo := server.LastServerInfo()
	freeSlots := 0
	if hasInfo {
		freeSlots = info.FreeSlots()
	}
	budget := freeSlots - server.JoiningCount()
	if budget < 0 {
		budget = 0
	}

	now := s.clock.Now()
	for _, entry := range server.Queue.Snapshot() {
		p := entry.Item
		switch p.State() {
		case player.StateJoining:
			attempts := p.JoinAttempts()
			if len(attempts) > 0 && now.Sub(attempts[0]) > s.cfg.TotalJoinTimeLimit {
				s.dequeue(ctx, server, p, channel.ReasonJoinTimeout)
			}
		case player.StateQueued:
			// Reserve the slot synchronously, before the push is even
			// dispatched: §4.6 treats NotifyJoin as a loop suspension
			// point whose state/joiningCount flip happens at dispatch,
			// not at delivery, so a push outstanding past this tick's
			// pacing interval can't be re-dispatched on the next one.
			if budget > 0 && p.CompareAndSwapState(player.StateQueued, player.StateJoining) {
				budget--
				server.IncJoiningCount()
				go s.dispatchJoinAttempt(ctx, server, p)
			}
		}
	}
}

// dispatchJoinAttempt is the join-attempt procedure from §4.6, run in
// its own goroutine per candidate so that one slow NotifyJoin push
// cannot delay dispatching to the rest of the queue within the same
// iteration; launch order still follows queue order per §5.
func (s *Service) dispatchJoinAttempt(ctx context.Context, server *gameserver.GameServer, p *player.Player) {
	p.RecordJoinAttempt(s.clock.Now())
	if s.metrics != nil {
		s.metrics.JoinAttemptsTotal.WithLabelValues(server.Key()).Inc()
	}

	notifyCtx, cancel := context.WithTimeout(ctx, s.cfg.JoinAttemptDeadline())
	p.ArmJoinCancel(cancel)
	defer func() {
		p.DisarmJoinCancel()
		cancel()
	}()

	delivered, err, panicked := s.safeNotifyJoin(notifyCtx, p, server)

	switch {
	case panicked:
		s.dequeue(ctx, server, p, channel.ReasonUnknown)
	case errors.Is(notifyCtx.Err(), context.Canceled):
		// A concurrent disconnect/leaveQueue already cancelled this
		// push via CancelPendingJoin and resolved p's fate; nothing
		// left for this dispatch to apply.
	case joinPushTimedOut(notifyCtx, err):
		s.dequeue(ctx, server, p, channel.ReasonJoinTimeout)
	case err != nil:
		s.onJoinFailed(ctx, server, p)
	case delivered:
		// state/joiningCount were already reserved synchronously
		// before this goroutine was even spawned.
	default:
		s.onJoinFailed(ctx, server, p)
	}
}

// joinPushTimedOut reports whether err represents the push's own
// deadline firing rather than some other transport failure. The Fake
// channel surfaces ctx.Err() directly as context.DeadlineExceeded;
// gorilla's write-deadline instead surfaces a net.Error timeout, so it
// reports true when notifyCtx's own deadline has elapsed or when err is
// a net.Error timeout.
func joinPushTimedOut(notifyCtx context.Context, err error) bool {
	if errors.Is(notifyCtx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (s *Service) safeNotifyJoin(ctx context.Context, p *player.Player, server *gameserver.GameServer) (delivered bool, err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			s.log.Error("panic delivering NotifyJoin", zap.Any("recover", r), zap.String("player", p.StableID))
		}
	}()
	delivered, err = p.Channel.NotifyJoin(ctx, server.IP, server.Port)
	return
}

// onJoinFailed is the late-failure policy from §4.6.
func (s *Service) onJoinFailed(ctx context.Context, server *gameserver.GameServer, p *player.Player) {
	attempts := p.JoinAttempts()
	if len(attempts) >= s.cfg.MaxJoinAttempts {
		s.dequeue(ctx, server, p, channel.ReasonMaxJoinAttemptsReached)
		return
	}

	if info, ok := server.LastServerInfo(); ok && info.FreeSlots() == 0 {
		// Guarded by CAS: a concurrent disconnect/leaveQueue may have
		// already moved p away from Joining (and out of the queue)
		// while this push was in flight. If so, that path already
		// owns p's joiningCount/state bookkeeping and this one must
		// not double-apply it.
		if !p.CompareAndSwapState(player.StateJoining, player.StateQueued) {
			return
		}
		server.DecJoiningCount()
		if s.cfg.ClearJoinAttemptsOnRequeue {
			p.ClearJoinAttempts()
		}
		s.notifyQueuePositions(ctx, server)
		return
	}

	s.dequeue(ctx, server, p, channel.ReasonJoinFailed)
}

// silent reports the reasons that never produce a RemovedFromQueue push: the leaver
// already knows (UserLeave, Joined success, JoinFailed late-failure) or
// has no channel left to push to (Disconnect).
func silent(reason channel.DequeueReason) bool {
	switch reason {
	case channel.ReasonUserLeave, channel.ReasonJoined, channel.ReasonDisconnect, channel.ReasonJoinFailed:
		return true
	default:
		return false
	}
}

// dequeue removes p from server's queue, updates its state and
// joiningCount bookkeeping, and pushes notifications per §4.6.
//
// p's state transition and the joiningCount it owes are claimed in one
// atomic step (TryClaimDequeue) so this can never race a concurrent
// dequeue of the same player from another caller (disconnect vs.
// leaveQueue vs. a timed-out/failed join attempt resolving
// concurrently) or onJoinFailed's Joining->Queued late-failure revert:
// whichever claims p's state first owns its bookkeeping, and the loser
// returns immediately without touching it.
func (s *Service) dequeue(ctx context.Context, server *gameserver.GameServer, p *player.Player, reason channel.DequeueReason) {
	finalState := player.StateConnected
	switch reason {
	case channel.ReasonDisconnect:
		finalState = player.StateDisconnected
	case channel.ReasonJoined:
		finalState = player.StateJoined
	}

	claimedFrom := p.TryClaimDequeue(finalState)
	if claimedFrom == "" {
		return
	}
	wasJoining := claimedFrom == player.StateJoining
	if wasJoining {
		// Abort any outstanding NotifyJoin push for p synchronously
		// with this dequeue, per §5, rather than letting it linger
		// until JoinAttemptDeadline.
		p.CancelPendingJoin()
	}

	if _, removed := server.Queue.TryRemove(p.QueueKey()); !removed {
		// p's state is already resolved above; the joiningCount this
		// claim owns must still be returned even though there was no
		// queue entry left to remove.
		if wasJoining {
			server.DecJoiningCount()
		}
		return
	}
	if wasJoining {
		server.DecJoiningCount()
	}

	if s.metrics != nil {
		s.metrics.DequeueTotal.WithLabelValues(server.Key(), string(reason)).Inc()
		s.metrics.QueueLength.WithLabelValues(server.Key()).Set(float64(server.Queue.Len()))
	}

	if !silent(reason) && p.Channel != nil {
		if err := p.Channel.RemovedFromQueue(ctx, reason); err != nil {
			s.log.Warn("push RemovedFromQueue failed", zap.String("player", p.StableID), zap.Error(err))
		}
	}

	s.notifyQueuePositions(ctx, server)
}

// notifyQueuePositions pushes QueuePositionChanged to every player
// still in server's queue, 1-indexed, per §4.6. Push errors are logged
// and never abort the loop.
func (s *Service) notifyQueuePositions(ctx context.Context, server *gameserver.GameServer) {
	snapshot := server.Queue.Snapshot()
	length := len(snapshot)
	for i, entry := range snapshot {
		p := entry.Item
		if p.Channel == nil {
			continue
		}
		if err := p.Channel.QueuePositionChanged(ctx, i+1, length); err != nil {
			s.log.Warn("push QueuePositionChanged failed", zap.String("player", p.StableID), zap.Error(err))
		}
	}
}
