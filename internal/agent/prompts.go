package agent

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alexlabs/alex/internal/domain"
)

//go:embed prompts.yaml
var promptsYAML []byte

type promptSpec struct {
	Instructions string `yaml:"instructions"`
}

var prompts map[string]promptSpec

func init() {
	if err := yaml.Unmarshal(promptsYAML, &prompts); err != nil {
		panic(fmt.Sprintf("agent: bad prompts.yaml: %v", err))
	}
}

// instructionsFor returns the instruction block for a worker.
func instructionsFor(worker string) string {
	p, ok := prompts[worker]
	if !ok {
		panic(fmt.Sprintf("agent: no prompt for worker %q", worker))
	}
	return strings.TrimSpace(p.Instructions)
}

// portfolioContext renders the snapshot as the user message shared by the
// specialists. The snapshot is injected here, never fetched through tools.
func portfolioContext(p domain.Portfolio) string {
	var b strings.Builder
	b.WriteString("Portfolio snapshot:\n")
	for _, acct := range p.Accounts {
		fmt.Fprintf(&b, "- Account %q: cash %.2f at %.2f%% interest\n", acct.Name, acct.CashBalance, acct.CashRate)
		for _, pos := range acct.Positions {
			fmt.Fprintf(&b, "  - %s: quantity %.4f, market value %.2f\n", pos.Symbol, pos.Quantity, pos.MarketValue)
		}
	}
	fmt.Fprintf(&b, "Totals: cash %.2f, invested %.2f, portfolio %.2f\n",
		p.TotalCash(), p.TotalInvested(), p.TotalValue())
	return b.String()
}

// instrumentsContext appends known classifications so workers can reason
// about exposure without store access.
func instrumentsContext(instruments []domain.Instrument) string {
	if len(instruments) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nInstrument classifications:\n")
	for _, ins := range instruments {
		raw, err := json.Marshal(map[string]any{
			"asset_class": ins.AssetClass,
			"region":      ins.Region,
			"sector":      ins.Sector,
		})
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "- %s (%s, %s): %s\n", ins.Symbol, ins.DisplayName, ins.Kind, raw)
	}
	return b.String()
}
