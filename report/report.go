// Package report describes the outcome of one guest call in a form that
// can be logged, printed or stored.
package report

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"

	"github.com/reglet-dev/trapbridge/trap"
)

// Outcome values.
const (
	OutcomeCompleted = "completed"
	OutcomeAborted   = "aborted"
	OutcomeFailed    = "failed"
)

// Report is the record of one guest call.
type Report struct {
	StartedAt time.Time     `json:"started_at" yaml:"started_at" cbor:"started_at"`
	Result    any           `json:"result,omitempty" yaml:"result,omitempty" cbor:"result,omitempty"`
	Trap      *Trap         `json:"trap,omitempty" yaml:"trap,omitempty" cbor:"trap,omitempty"`
	CallID    string        `json:"call_id" yaml:"call_id" cbor:"call_id" jsonschema:"format=uuid"`
	Engine    string        `json:"engine" yaml:"engine" cbor:"engine" jsonschema:"enum=wasm,enum=js,enum=native"`
	Guest     string        `json:"guest" yaml:"guest" cbor:"guest"`
	Outcome   string        `json:"outcome" yaml:"outcome" cbor:"outcome" jsonschema:"enum=completed,enum=aborted,enum=failed"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty" cbor:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns" yaml:"duration" cbor:"duration_ns"`
}

// Trap is the fault that aborted a call.
type Trap struct {
	Code    string `json:"code" yaml:"code" cbor:"code"`
	Message string `json:"message" yaml:"message" cbor:"message"`
	Addr    string `json:"addr,omitempty" yaml:"addr,omitempty" cbor:"addr,omitempty"`
	Timeout bool   `json:"timeout,omitempty" yaml:"timeout,omitempty" cbor:"timeout,omitempty"`
}

// JSONSchemaExtend restricts code to the known trap codes.
func (Trap) JSONSchemaExtend(s *jsonschema.Schema) {
	prop, ok := s.Properties.Get("code")
	if !ok {
		return
	}
	for _, c := range trap.Codes() {
		prop.Enum = append(prop.Enum, c.Slug())
	}
}

// New starts a report for a call and assigns it a call ID.
func New(engine, guest string) *Report {
	return &Report{
		CallID:    uuid.NewString(),
		Engine:    engine,
		Guest:     guest,
		StartedAt: time.Now().UTC(),
	}
}

// Complete records how the call ended. A *trap.Error anywhere in err's
// chain makes the outcome aborted; any other error makes it failed.
func (r *Report) Complete(result any, err error) *Report {
	r.Duration = time.Since(r.StartedAt)

	var te *trap.Error
	switch {
	case err == nil:
		r.Outcome = OutcomeCompleted
		r.Result = result
	case errors.As(err, &te):
		r.Outcome = OutcomeAborted
		r.Trap = trapFrom(te)
	default:
		r.Outcome = OutcomeFailed
		r.Error = err.Error()
	}
	return r
}

func trapFrom(te *trap.Error) *Trap {
	d := te.ToErrorDetail()
	t := &Trap{
		Code:    d.Code,
		Message: d.Message,
		Addr:    d.Addr,
		Timeout: d.IsTimeout,
	}
	if te.Fault != nil && te.Fault.Message != "" {
		t.Message = te.Fault.Message
	}
	return t
}

// Aborted reports whether a trap ended the call.
func (r *Report) Aborted() bool {
	return r.Outcome == OutcomeAborted
}

func (r *Report) String() string {
	switch r.Outcome {
	case OutcomeAborted:
		return fmt.Sprintf("%s %s: aborted (%s) after %s", r.Engine, r.Guest, r.Trap.Code, r.Duration)
	case OutcomeFailed:
		return fmt.Sprintf("%s %s: failed after %s: %s", r.Engine, r.Guest, r.Duration, r.Error)
	default:
		return fmt.Sprintf("%s %s: completed in %s", r.Engine, r.Guest, r.Duration)
	}
}
