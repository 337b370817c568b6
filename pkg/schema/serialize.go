package schema

import (
	"bytes"
	"context"
	"encoding/json"
)

// marshalNoEscape encodes v as JSON without HTML-escaping characters such as
// '<' and '>', matching the output of the top-level definition encoder.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// callbackSource is the lossy source-text stand-in emitted for Go callbacks,
// which have no recoverable source representation.
const callbackSource = "<callback>"

type hookJSON struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Source string `json:"source,omitempty"`
}

// MarshalJSON serializes a hook as its identifier, name, and a lossy source
// marker for the callback.
func (h Hook) MarshalJSON() ([]byte, error) {
	out := hookJSON{ID: h.ID, Name: h.Name}
	if h.Fn != nil {
		out.Source = callbackSource
	}
	return marshalNoEscape(out)
}

// UnmarshalJSON restores a hook from JSON. The callback is an inert no-op
// until the caller re-binds it.
func (h *Hook) UnmarshalJSON(data []byte) error {
	var in hookJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	h.ID = in.ID
	h.Name = in.Name
	h.Fn = func(ctx context.Context, hc *HookContext) error { return nil }
	return nil
}

type skipPolicyJSON struct {
	Condition     string `json:"condition,omitempty"`
	DefaultOutput any    `json:"defaultOutput"`
}

// MarshalJSON serializes a skip policy. An expression string is emitted
// verbatim; a callback predicate degrades to a lossy source marker.
func (p SkipPolicy) MarshalJSON() ([]byte, error) {
	out := skipPolicyJSON{DefaultOutput: p.DefaultOutput}
	switch {
	case p.Expression != "":
		out.Condition = p.Expression
	case p.Condition != nil:
		out.Condition = callbackSource
	}
	return marshalNoEscape(out)
}

// UnmarshalJSON restores a skip policy. The condition string becomes the
// expression; callback predicates cannot be restored from JSON.
func (p *SkipPolicy) UnmarshalJSON(data []byte) error {
	var in skipPolicyJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	p.Expression = in.Condition
	p.DefaultOutput = in.DefaultOutput
	p.Condition = nil
	return nil
}
