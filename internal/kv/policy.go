package kv

// FailMode names the availability/security tradeoff applied when a storage
// call fails unexpectedly. FailOpen admits the operation anyway (rate
// limiting, statistics); FailClosed propagates the error (account
// persistence, anything login cannot proceed without). Keeping the policy
// an explicit value per call site keeps the tradeoff auditable.
type FailMode int

const (
	FailClosed FailMode = iota
	FailOpen
)

func (m FailMode) String() string {
	if m == FailOpen {
		return "fail-open"
	}
	return "fail-closed"
}
