package modules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/pulse/engine/domain"
)

// DefaultSpecs is the closed set of modules every session delivers, in
// report order.
func DefaultSpecs() []domain.ModuleSpec {
	return []domain.ModuleSpec{
		{Name: "anti_objection", Title: "Anti-Objection System", Description: "A complete system to anticipate and neutralize objections"},
		{Name: "avatars", Title: "Target Audience Avatars", Description: "Detailed personas of the target audience"},
		{Name: "competition", Title: "Competitive Analysis", Description: "A complete analysis of the competition", RequiresActiveSearch: true},
		{Name: "mental_drivers", Title: "Mental Drivers", Description: "Psychological triggers and purchase drivers"},
		{Name: "sales_funnel", Title: "Sales Funnel", Description: "The complete structure of the sales funnel"},
		{Name: "market_insights", Title: "Market Insights", Description: "Deep insights about the market", RequiresActiveSearch: true},
		{Name: "keywords", Title: "Keyword Strategy", Description: "A complete SEO and keyword strategy"},
		{Name: "action_plan", Title: "Action Plan", Description: "A detailed, executable action plan"},
		{Name: "positioning", Title: "Positioning Strategy", Description: "Strategic positioning in the market"},
		{Name: "pre_pitch", Title: "Pre-Pitch Structure", Description: "Pre-sale and engagement structure"},
		{Name: "future_predictions", Title: "Market Predictions", Description: "Predictions and future trends", RequiresActiveSearch: true},
		{Name: "visual_proof", Title: "Visual Proof System", Description: "Visual and social proof"},
		{Name: "conversion_metrics", Title: "Conversion Metrics", Description: "Conversion KPIs and metrics"},
		{Name: "pricing", Title: "Pricing Strategy", Description: "Pricing and monetization strategy"},
		{Name: "acquisition_channels", Title: "Acquisition Channels", Description: "Customer acquisition channels"},
		{Name: "launch_schedule", Title: "Launch Schedule", Description: "A detailed launch schedule"},
	}
}

// LoadSpecs reads a YAML list of module specs. The file replaces the
// default set entirely so the report order is whatever the file says.
func LoadSpecs(path string) ([]domain.ModuleSpec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("modules: read specs: %w", err)
	}
	var doc struct {
		Modules []domain.ModuleSpec `yaml:"modules"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("modules: parse specs: %w", err)
	}
	if len(doc.Modules) == 0 {
		return nil, fmt.Errorf("modules: %s lists no modules", path)
	}
	if err := domain.ValidateModuleSpecs(doc.Modules); err != nil {
		return nil, err
	}
	for i := range doc.Modules {
		if doc.Modules[i].Title == "" {
			doc.Modules[i].Title = doc.Modules[i].Name
		}
	}
	return doc.Modules, nil
}

// Select narrows specs to the named modules, keeping spec order.
func Select(specs []domain.ModuleSpec, names []string) ([]domain.ModuleSpec, error) {
	if len(names) == 0 {
		return specs, nil
	}
	byName := make(map[string]domain.ModuleSpec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := byName[n]; !ok {
			return nil, domain.NewValidationError("module", n, domain.ErrUnknownModule)
		}
		want[n] = true
	}
	var out []domain.ModuleSpec
	for _, s := range specs {
		if want[s.Name] {
			out = append(out, s)
		}
	}
	return out, nil
}
