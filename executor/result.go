package executor

import (
	"time"

	"github.com/numkem/hookscript/bridge"
)

type Outcome string

const (
	// OutcomeAbsent means the script ran fine but never called setResult:
	// no transformation was requested.
	OutcomeAbsent  Outcome = "absent"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// InvocationResult is produced exactly once per invocation
type InvocationResult struct {
	Seq        uint64             `json:"seq"`
	ExchangeID string             `json:"exchange_id"`
	Script     string             `json:"script"`
	Outcome    Outcome            `json:"outcome"`
	Payload    string             `json:"payload,omitempty"`
	Error      *InvocationError   `json:"error,omitempty"`
	Logs       []bridge.LogRecord `json:"logs,omitempty"`
	Duration   time.Duration      `json:"duration"`
}

func (r *InvocationResult) Failed() bool {
	return r.Outcome == OutcomeFailure
}

// Kind returns the failure kind, or an empty string when the invocation did not fail
func (r *InvocationResult) Kind() ErrorKind {
	if r.Error == nil {
		return ""
	}

	return r.Error.Kind
}

// Apply returns what the exchange body should become: the payload when the script
// set a result, the original body otherwise (absent or failed).
func (r *InvocationResult) Apply(body string) string {
	if r.Outcome == OutcomeSuccess {
		return r.Payload
	}

	return body
}

func (r *InvocationResult) fail(kind ErrorKind, msg string) {
	r.Outcome = OutcomeFailure
	r.Payload = ""
	r.Error = &InvocationError{Kind: kind, Message: msg}
}

// FailedResult builds a failure result for callers that could not even reach
// the executor (unknown script, undecodable exchange).
func FailedResult(scriptName, exchangeID string, kind ErrorKind, err error) *InvocationResult {
	r := &InvocationResult{Script: scriptName, ExchangeID: exchangeID}
	r.fail(kind, err.Error())

	return r
}
