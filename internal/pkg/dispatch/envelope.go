package dispatch

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
)

// Envelope is the single JSON object a run writes to stdout
type Envelope struct {
	requestID string
	action    string
	start     time.Time
	now       func() time.Time

	done   bool
	ok     bool
	detail apperror.Detail
	body   map[string]interface{}
}

func NewEnvelope(requestID string, now func() time.Time) *Envelope {
	return &Envelope{
		requestID: requestID,
		start:     now(),
		now:       now,
		body:      map[string]interface{}{},
	}
}

func (e *Envelope) SetAction(a string) {
	e.action = a
}

func (e *Envelope) OK() bool {
	return e.ok
}

// Detail is the error of a failed run
func (e *Envelope) Detail() apperror.Detail {
	return e.detail
}

func (e *Envelope) ElapsedMs() int64 {
	return e.now().Sub(e.start).Milliseconds()
}

// Succeed finalizes from a workflow result.  A result the platform
// reported as unsuccessful becomes an API_FAILED failure carrying data.
func (e *Envelope) Succeed(r *Result) bool {
	if e.done {
		return false
	}

	if !r.Success {
		d := apperror.Normalize(apperror.Platform(r.ErrorMessage))
		return e.finalize(false, d, map[string]interface{}{"data": r.Data})
	}

	body := map[string]interface{}{}
	for k, v := range r.Fields {
		body[k] = v
	}
	body["data"] = r.Data
	body["success"] = true
	if r.ErrorMessage != "" {
		body["errorMessage"] = r.ErrorMessage
	}
	return e.finalize(true, apperror.Detail{}, body)
}

// Fail finalizes from an error, extra keys going to the top level
func (e *Envelope) Fail(err error, extra map[string]interface{}) bool {
	if e.done {
		return false
	}

	body := map[string]interface{}{}
	for k, v := range extra {
		body[k] = v
	}
	return e.finalize(false, apperror.Normalize(err), body)
}

// Message finalizes a successful run that carries only a message
func (e *Envelope) Message(msg string) bool {
	if e.done {
		return false
	}
	return e.finalize(true, apperror.Detail{}, map[string]interface{}{"message": msg})
}

func (e *Envelope) finalize(ok bool, d apperror.Detail, body map[string]interface{}) bool {
	if !ok {
		body["errorCode"] = d.Code
		body["errorType"] = d.Type
		body["message"] = d.Message
	}

	e.done = true
	e.ok = ok
	e.detail = d
	e.body = body
	return true
}

// MarshalJSON renders the envelope; reserved keys win over result fields
func (e *Envelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(e.body)+4)
	for k, v := range e.body {
		out[k] = v
	}
	out["ok"] = e.ok
	out["requestId"] = e.requestID
	out["elapsedMs"] = e.ElapsedMs()
	if e.action != "" {
		out["action"] = e.action
	}
	return json.Marshal(out)
}

// Write emits the envelope as one line and returns the exit code.  An
// envelope that cannot be encoded degrades to a minimal failure object.
func (e *Envelope) Write(w io.Writer) int {
	if !e.done {
		e.Fail(apperror.New(apperror.CodeUnexpected, "run ended without a result"), nil)
	}

	b, err := json.Marshal(e)
	if err != nil {
		e.ok = false
		b, _ = json.Marshal(map[string]interface{}{
			"ok":        false,
			"requestId": e.requestID,
			"elapsedMs": e.ElapsedMs(),
			"action":    e.action,
			"errorCode": apperror.CodeUnexpected,
			"errorType": apperror.TypeUnknown,
			"message":   fmt.Sprintf("encoding result: %v", err),
		})
	}

	fmt.Fprintf(w, "%s\n", b)
	if e.ok {
		return 0
	}
	return 1
}

// WriteFailure renders a failure that happened before any action could
// run, such as a bad flag or configuration
func WriteFailure(w io.Writer, action string, err error) int {
	env := NewEnvelope(uuid.New().String(), time.Now)
	env.SetAction(action)
	env.Fail(err, nil)
	return env.Write(w)
}

// WriteMessage renders a successful message-only envelope
func WriteMessage(w io.Writer, msg string) int {
	env := NewEnvelope(uuid.New().String(), time.Now)
	env.Message(msg)
	return env.Write(w)
}
