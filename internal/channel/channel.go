// Package channel abstracts the real-time push transport into the
// "Client Channel" capability set described in §6/§9: a single
// interface the Queueing and Matchmaking services push notifications
// through, so the transport (websocket, or anything else) stays
// exchangeable and is never referenced concretely outside this package
// and its implementations.
package channel

import "context"

// DequeueReason is carried on a RemovedFromQueue notification.
type DequeueReason string

const (
	ReasonUserLeave               DequeueReason = "UserLeave"
	ReasonDisconnect              DequeueReason = "Disconnect"
	ReasonJoinFailed              DequeueReason = "JoinFailed"
	ReasonJoinTimeout             DequeueReason = "JoinTimeout"
	ReasonMaxJoinAttemptsReached  DequeueReason = "MaxJoinAttemptsReached"
	ReasonJoined                  DequeueReason = "Joined"
	ReasonUnknown                 DequeueReason = "Unknown"
)

// Channel is the server->client push surface. Implementations must be
// safe for concurrent use: a player's channel may be pushed to from
// its own server's processing loop and, for NotifyJoin specifically,
// awaited synchronously by the join-attempt procedure.
type Channel interface {
	// NotifyJoin asks the client to connect to (ip, port) now. It
	// blocks until the client channel confirms delivery/acceptance or
	// ctx is done, returning (delivered, error). A deadline elapsing is
	// reported through the error (ctx.Err() from Fake, a net.Error
	// timeout from WSChannel), not a distinguished return value: the
	// §4.6 "timeout" branch is the caller's ctx deadline, a peer of ok
	// and error rather than an exception to unwind.
	NotifyJoin(ctx context.Context, ip string, port int) (bool, error)

	// QueuePositionChanged is a fire-and-forget notification; per
	// §4.6, push errors are logged by the caller and never abort the
	// processing loop.
	QueuePositionChanged(ctx context.Context, position, length int) error

	// RemovedFromQueue is a fire-and-forget notification; never sent
	// to a player whose own leaveQueue/onJoinAck(success) caused the
	// removal (§4.6).
	RemovedFromQueue(ctx context.Context, reason DequeueReason) error

	MatchFound(ctx context.Context, ip string, port int) error
	MatchmakingFailed(ctx context.Context, reason string) error

	// ID is the opaque clientChannelId used by the Player Registry to
	// detect stale/duplicate sessions.
	ID() string
}
