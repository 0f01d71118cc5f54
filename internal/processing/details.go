package processing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"docplane/internal/store"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidDetails is returned when a process configuration does not match
// the schema of its type.
var ErrInvalidDetails = errors.New("invalid process details")

// Field is one value to extract from every asset.
type Field struct {
	Key         string `json:"key"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
}

// ExtractDetails configures an "extract" process.
type ExtractDetails struct {
	Fields         []Field `json:"fields"`
	MultipleFields bool    `json:"multiple_fields,omitempty"`
	OutputType     string  `json:"output_type,omitempty"`
}

// SummaryDetails configures an "extractive_summary" process. The raw
// configuration is forwarded to the summarization service as is.
type SummaryDetails struct {
	TransformationPrompt string `json:"transformation_prompt,omitempty"`
	ShowFinalSummary     bool   `json:"show_final_summary,omitempty"`
	SummaryLength        int    `json:"summary_length,omitempty"`
}

// Details is the validated configuration of a process, tagged by type.
type Details struct {
	Type    store.ProcessType
	Raw     json.RawMessage
	Extract *ExtractDetails
	Summary *SummaryDetails
}

// ShowFinalSummary reports whether a summary of all step summaries is wanted.
func (d *Details) ShowFinalSummary() bool {
	return d.Summary != nil && d.Summary.ShowFinalSummary
}

const extractSchema = `{
	"type": "object",
	"required": ["fields"],
	"properties": {
		"fields": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["key"],
				"properties": {
					"key": {"type": "string", "minLength": 1},
					"description": {"type": "string"},
					"type": {"enum": ["text", "number", "date", "list"]}
				}
			}
		},
		"multiple_fields": {"type": "boolean"},
		"output_type": {"type": "string"}
	}
}`

const summarySchema = `{
	"type": "object",
	"properties": {
		"transformation_prompt": {"type": "string"},
		"show_final_summary": {"type": "boolean"},
		"summary_length": {"type": "integer", "minimum": 1}
	}
}`

var detailSchemas = map[store.ProcessType]*jsonschema.Schema{
	store.ProcessTypeExtract:           mustCompile("extract.json", extractSchema),
	store.ProcessTypeExtractiveSummary: mustCompile("extractive_summary.json", summarySchema),
}

func mustCompile(name, schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	s, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return s
}

// ParseDetails validates raw against the schema of t and decodes it.
func ParseDetails(t store.ProcessType, raw json.RawMessage) (*Details, error) {
	schema, ok := detailSchemas[t]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported process type %q", ErrInvalidDetails, t)
	}
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDetails, err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDetails, err)
	}

	d := &Details{Type: t, Raw: raw}
	switch t {
	case store.ProcessTypeExtract:
		d.Extract = &ExtractDetails{}
		if err := json.Unmarshal(raw, d.Extract); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDetails, err)
		}
	case store.ProcessTypeExtractiveSummary:
		d.Summary = &SummaryDetails{}
		if err := json.Unmarshal(raw, d.Summary); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDetails, err)
		}
	}
	return d, nil
}
