package tools

import "encoding/json"

// Result is the outcome of a tool call as the model sees it: exactly one
// of a success payload or an error string.
type Result struct {
	OK    any
	Error string
}

// Success wraps a payload.
func Success(v any) Result { return Result{OK: v} }

// Failure wraps an error.
func Failure(err error) Result {
	msg := err.Error()
	if msg == "" {
		msg = "unknown error"
	}
	return Result{Error: msg}
}

// Failed reports whether the result carries an error.
func (r Result) Failed() bool { return r.Error != "" }

// MarshalJSON renders {"ok": ...} or {"error": "..."}.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Failed() {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{r.Error})
	}
	return json.Marshal(struct {
		OK any `json:"ok"`
	}{r.OK})
}

// String is the tool message content handed back to the model.
func (r Result) String() string {
	data, err := json.Marshal(r)
	if err != nil {
		data, _ = json.Marshal(Result{Error: "unserializable tool result: " + err.Error()})
	}
	return string(data)
}
