package chain

import "fmt"

// Reason enumerates HeaderError causes.
type Reason string

const (
	ReasonBadProofOfWork    Reason = "bad_proof_of_work"
	ReasonBadTimestamp      Reason = "bad_timestamp"
	ReasonParentUnknown     Reason = "parent_unknown"
	ReasonBadWork           Reason = "bad_work"
	ReasonTimestampTooEarly Reason = "timestamp_too_early"
	ReasonRewritesCheckpoint Reason = "rewrites_checkpoint"
	ReasonFailsCheckpoint   Reason = "fails_checkpoint"
	ReasonDisallowedVersion Reason = "disallowed_version"
	ReasonNotLinked         Reason = "not_linked"
)

// HeaderError reports why connect_header/connect_headers rejected a header.
type HeaderError struct {
	Reason Reason
	Hash   string
	Detail string
}

func (e *HeaderError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("header %s: %s", e.Hash, e.Reason)
	}
	return fmt.Sprintf("header %s: %s: %s", e.Hash, e.Reason, e.Detail)
}

func newHeaderErr(reason Reason, hash fmt.Stringer, detail string) *HeaderError {
	return &HeaderError{Reason: reason, Hash: hash.String(), Detail: detail}
}
