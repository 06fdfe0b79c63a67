package relay

import (
	"errors"

	"github.com/gorilla/websocket"
)

var (
	// ErrMissingSessionID is reported when a join or negotiation message
	// carries no connectionId.
	ErrMissingSessionID = errors.New("missing connectionId")

	// ErrRateLimitExceeded is reported when a source address exceeds its
	// connection ceiling or an endpoint exceeds its message rate.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrUnauthorizedOrigin is reported when the Origin header is not allowed.
	ErrUnauthorizedOrigin = errors.New("unauthorized origin")
)

// Close codes sent when a connection is rejected at admission time.
const (
	CloseRateLimited        = websocket.CloseTryAgainLater    // 1013
	CloseUnauthorizedOrigin = websocket.ClosePolicyViolation // 1008
)
