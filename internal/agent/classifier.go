package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alexlabs/alex/internal/domain"
)

// Classifier fills in missing instrument allocations. It runs in schema
// mode with no tools; the orchestrator persists the result.
type Classifier struct {
	model domain.ModelClient
}

// NewClassifier constructs a Classifier over the model client.
func NewClassifier(model domain.ModelClient) *Classifier {
	return &Classifier{model: model}
}

func allocationSchema(vocab []string) map[string]any {
	props := map[string]any{}
	for _, label := range vocab {
		props[label] = map[string]any{"type": "number", "minimum": 0}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
}

func classificationSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"asset_class": allocationSchema(domain.AssetClasses),
			"region":      allocationSchema(domain.Regions),
			"sector":      allocationSchema(domain.Sectors),
		},
		"required":             []string{"asset_class", "region", "sector"},
		"additionalProperties": false,
	}
}

func classifierUserPrompt(ins domain.Instrument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Instrument: symbol %q, name %q, kind %q\n", ins.Symbol, ins.DisplayName, ins.Kind)
	fmt.Fprintf(&b, "Allowed asset classes: %s\n", strings.Join(domain.SortedVocab(domain.AssetClasses), ", "))
	fmt.Fprintf(&b, "Allowed regions: %s\n", strings.Join(domain.SortedVocab(domain.Regions), ", "))
	fmt.Fprintf(&b, "Allowed sectors: %s\n", strings.Join(domain.SortedVocab(domain.Sectors), ", "))
	return b.String()
}

// Classify returns the instrument with its three allocation maps filled
// and validated.
func (c *Classifier) Classify(ctx domain.Context, ins domain.Instrument) (domain.Instrument, domain.Usage, error) {
	reply, usage, err := c.model.ChatSchema(ctx,
		instructionsFor("classifier"),
		classifierUserPrompt(ins),
		"instrument_classification",
		classificationSchema(),
	)
	if err != nil {
		return domain.Instrument{}, usage, fmt.Errorf("op=classifier: %s: %w", ins.Symbol, err)
	}
	var out struct {
		AssetClass domain.Allocation `json:"asset_class"`
		Region     domain.Allocation `json:"region"`
		Sector     domain.Allocation `json:"sector"`
	}
	if err := json.Unmarshal([]byte(reply), &out); err != nil {
		return domain.Instrument{}, usage, fmt.Errorf("op=classifier: %s: %w: %v", ins.Symbol, domain.ErrModel, err)
	}
	classified := ins
	classified.AssetClass = out.AssetClass
	classified.Region = out.Region
	classified.Sector = out.Sector
	if err := classified.Validate(); err != nil {
		return domain.Instrument{}, usage, fmt.Errorf("op=classifier: %s: %w", ins.Symbol, err)
	}
	return classified, usage, nil
}
