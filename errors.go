package sharder

import "github.com/arloliu/sharder/types"

// Sentinel errors returned by the Manager and its components.
//
// They are the same values as in the types package, so errors.Is works with either.
var (
	ErrInvalidConfig            = types.ErrInvalidConfig
	ErrNATSConnectionRequired   = types.ErrNATSConnectionRequired
	ErrShardCountSourceRequired = types.ErrShardCountSourceRequired
	ErrClientFactoryRequired    = types.ErrClientFactoryRequired
	ErrAlreadyStarted           = types.ErrAlreadyStarted
	ErrNotStarted               = types.ErrNotStarted
	ErrElectionFailed           = types.ErrElectionFailed
	ErrIDClaimFailed            = types.ErrIDClaimFailed
	ErrNotLeader                = types.ErrNotLeader

	ErrInvariantViolation    = types.ErrInvariantViolation
	ErrNoShardToMove         = types.ErrNoShardToMove
	ErrMalformedSnapshot     = types.ErrMalformedSnapshot
	ErrShardCountUnavailable = types.ErrShardCountUnavailable
	ErrInvalidShardCount     = types.ErrInvalidShardCount
)
