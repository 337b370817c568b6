package engine

import (
	"bytes"
	"encoding/json"

	"github.com/rendis/flowop/internal/validation"
	"github.com/rendis/flowop/pkg/schema"
)

// ExportDefinition emits the loaded definition as canonical JSON. Callback
// fields (hooks, skip predicates) serialize as lossy source markers.
func (e *Engine) ExportDefinition() ([]byte, error) {
	e.mu.RLock()
	def := e.def
	e.mu.RUnlock()
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "no workflow loaded")
	}
	return MarshalDefinition(def)
}

// MarshalDefinition serializes any definition as canonical JSON.
func MarshalDefinition(def *schema.Definition) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(def); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "cannot serialize definition").WithCause(err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ImportDefinition parses and re-validates a definition document. Imported
// hook callbacks are inert no-ops until the caller re-binds them; skip
// conditions come back as expression strings.
func ImportDefinition(data []byte) (*schema.Definition, error) {
	if err := validation.ValidateDefinitionJSON(data); err != nil {
		return nil, err
	}

	var def schema.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "cannot parse definition: %s", err.Error()).WithCause(err)
	}

	if err := validation.ValidateDefinition(&def); err != nil {
		return nil, err
	}
	if _, err := BuildDAG(&def); err != nil {
		return nil, err
	}
	return &def, nil
}
