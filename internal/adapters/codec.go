package adapters

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"scanbridge/internal/events"
)

var ErrEmptyPayload = errors.New("adapters: empty payload")

// envelopeSchema describes a scan broadcast as sources put it on the wire:
//
//	{"action": "com.cipherlab.barcodebaseapi.PASS_DATA_2_APP",
//	 "extras": {"Decoder_Data": "0123456789012"}}
const envelopeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {"type": ["string", "null"]},
    "extras": {"type": ["object", "null"]}
  }
}`

const schemaURL = "https://scanbridge.local/schema/envelope.json"

var envelope = mustCompile(envelopeSchema)

func mustCompile(src string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, strings.NewReader(src)); err != nil {
		panic(err)
	}
	return c.MustCompile(schemaURL)
}

type wireEnvelope struct {
	Action *string                    `json:"action"`
	Extras map[string]json.RawMessage `json:"extras"`
}

// Decode validates one JSON envelope and turns it into a ScanEvent. Extras
// that are not JSON strings are kept with a nil value.
func Decode(source string, payload []byte) (events.ScanEvent, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return events.ScanEvent{}, ErrEmptyPayload
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return events.ScanEvent{}, fmt.Errorf("adapters: invalid json: %w", err)
	}
	if err := envelope.Validate(doc); err != nil {
		return events.ScanEvent{}, fmt.Errorf("adapters: invalid envelope: %w", err)
	}

	var env wireEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return events.ScanEvent{}, fmt.Errorf("adapters: decode envelope: %w", err)
	}

	fields := make(map[string]*string, len(env.Extras))
	for k, raw := range env.Extras {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			fields[k] = &s
		} else {
			fields[k] = nil
		}
	}

	tag := ""
	if env.Action != nil {
		tag = *env.Action
	}
	return events.New(source, tag, fields), nil
}

// Encode is the inverse of Decode for string extras; nil values become
// JSON null.
func Encode(tag string, fields map[string]*string) ([]byte, error) {
	return json.Marshal(struct {
		Action string             `json:"action"`
		Extras map[string]*string `json:"extras"`
	}{Action: tag, Extras: fields})
}

// Truncate shortens b for logging.
func Truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
