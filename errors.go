package cftp

import "errors"

// ErrPreviousUpgradeFailure is returned when a TLS upgrade is attempted on
// a control connection that a prior failed upgrade attempt left unusable.
var ErrPreviousUpgradeFailure = errors.New("cftp: TLS was already attempted and failed on this connection")

// ErrTLSNotConfigured's message is the text of the 502 reply to AUTH when
// the session has no TLSPolicy or its TLSPolicy has no Config.
var ErrTLSNotConfigured = errors.New("cftp: TLS is not configured for this session")
