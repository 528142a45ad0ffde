package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/control.json
var schemaFS embed.FS

const controlSchemaURL = "https://voice-session-gateway.local/schema/control.json"

// ErrUnsupported is returned for text frames that are not a valid control message.
var ErrUnsupported = errors.New("unsupported message")

// Control is a client text frame.
type Control struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

// ControlParser validates client text frames against the control schema.
type ControlParser struct {
	schema *jsonschema.Schema
}

func NewControlParser() (*ControlParser, error) {
	raw, err := schemaFS.ReadFile("schema/control.json")
	if err != nil {
		return nil, fmt.Errorf("read control schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err = compiler.AddResource(controlSchemaURL, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(controlSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &ControlParser{schema: schema}, nil
}

// Parse decodes and validates one text frame. Every rejection wraps ErrUnsupported.
func (p *ControlParser) Parse(data []byte) (Control, error) {
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return Control{}, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if err := p.schema.Validate(payload); err != nil {
		return Control{}, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	var c Control
	if err := json.Unmarshal(data, &c); err != nil {
		return Control{}, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return c, nil
}
