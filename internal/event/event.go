// Package event turns a raw abandoned cart payload into a typed record.
//
// The payload is first repaired, then parsed as a JSON object and finally coerced field by field.
// Only a payload which is still not valid JSON after repair fails the pipeline.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cartwatch/cartwatch/internal/event/coerce"
	"github.com/cartwatch/cartwatch/internal/event/models"
	"github.com/cartwatch/cartwatch/internal/repair"
)

// Parse decodes repaired text as a JSON object. Numbers are kept as json.Number.
func Parse(repaired string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(repaired))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid character after top-level value")
	}

	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("payload is a %s, not an object", jsonKind(v))
	}
	return doc, nil
}

// Pipeline runs repair, parse and coercion on a payload.
// It holds no mutable state and can be shared between requests.
type Pipeline struct {
	Repairer repair.Repairer
	Sources  coerce.Sources
}

// NewPipeline returns a pipeline with the default dirty fields and sources.
func NewPipeline() Pipeline {
	return Pipeline{
		Repairer: repair.New(repair.DefaultDirtyFields),
		Sources:  coerce.DefaultSources,
	}
}

// Process returns the typed record of raw.
// It only fails with a *MalformedPayloadError.
func (p Pipeline) Process(raw string) (models.Record, error) {
	repaired := raw
	if p.Repairer != nil {
		repaired = p.Repairer.Repair(raw)
	}
	if repaired != raw {
		slog.Debug("Payload repaired", "repaired", repaired)
	}

	doc, err := Parse(repaired)
	if err != nil {
		return models.Record{}, &MalformedPayloadError{Raw: raw, Err: err}
	}

	return coerce.Coerce(doc, raw, p.Sources), nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
