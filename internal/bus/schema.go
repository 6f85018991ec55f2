package bus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const envelopeSchemaURL = "https://inboxdigest.local/schema/envelope.json"

const envelopeSchema = `{
	"type": "object",
	"required": ["id", "from", "to", "type"],
	"additionalProperties": false,
	"properties": {
		"id":      {"type": "string", "minLength": 1},
		"replyTo": {"type": "string"},
		"from":    {"enum": ["coordinator", "worker", "ui"]},
		"to":      {"enum": ["coordinator", "worker", "ui"]},
		"type":    {"type": "string", "pattern": "^[A-Z_]+(/[A-Z_]+)?$"},
		"data":    {},
		"error":   {"type": "string"}
	}
}`

// Validator checks raw envelopes from an untrusted boundary (NATS, the
// websocket bridge) before they are decoded.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the envelope schema.
func NewValidator() (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("parsing envelope schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(envelopeSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("adding envelope schema: %w", err)
	}
	sch, err := c.Compile(envelopeSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compiling envelope schema: %w", err)
	}
	return &Validator{schema: sch}, nil
}

// Decode validates raw and unmarshals it into an Envelope.
func (v *Validator) Decode(raw []byte) (Envelope, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope is not JSON: %v", ErrContractViolation, err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrContractViolation, err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrContractViolation, err)
	}
	return env, nil
}
