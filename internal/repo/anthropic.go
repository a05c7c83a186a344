package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/portfoliostack/portfolio-engine/internal/metrics"
	"github.com/portfoliostack/portfolio-engine/internal/models"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"

// AnthropicOracle classifies undecided portfolio items through the Anthropic
// Messages API. One request covers the whole batch.
type AnthropicOracle struct {
	client anthropic.Client
	model  string
	logger *slog.Logger
}

// NewAnthropicOracle builds an oracle. An empty model selects the default.
func NewAnthropicOracle(apiKey, model string, logger *slog.Logger) *AnthropicOracle {
	if model == "" {
		model = defaultAnthropicModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicOracle{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		logger: logger,
	}
}

// classifiedItem is the JSON shape the model is asked to emit per item.
type classifiedItem struct {
	ID         string   `json:"id"`
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	KeySignals []string `json:"key_signals"`
}

// Classify sends one batched request and parses the structured response.
// Input items are serialized with only their allowlisted signal fields.
func (o *AnthropicOracle) Classify(ctx context.Context, items []models.PortfolioItem, sc models.StrategicContext) ([]models.TriageResult, error) {
	if len(items) == 0 {
		return nil, nil
	}

	userPrompt, err := buildUserPrompt(items, sc)
	if err != nil {
		return nil, err
	}

	message, err := o.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(o.model),
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		metrics.ObserveOracle(metrics.OutcomeError)
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		metrics.ObserveOracle(metrics.OutcomeError)
		return nil, fmt.Errorf("no text content in anthropic response")
	}

	o.logger.Debug("oracle response received",
		"items", len(items),
		"tokens_in", message.Usage.InputTokens,
		"tokens_out", message.Usage.OutputTokens)

	results, err := parseClassifiedResponse(text)
	if err != nil {
		metrics.ObserveOracle(metrics.OutcomeError)
		return nil, err
	}
	metrics.ObserveOracle(metrics.OutcomeSuccess)
	return results, nil
}

const systemPrompt = `You are an IT portfolio triage assistant. You assign each
portfolio item one MoSCoW category: MUST, SHOULD, COULD, or WONT.

Consider business value, strategic alignment, risk, lifecycle stage, and the
organization's strategic context. Respond with a JSON array only, no prose,
one object per input item:
[{"id": "...", "category": "MUST", "confidence": 0.8, "reasoning": "...", "key_signals": ["...", "..."]}]

confidence is in [0,1]. key_signals lists at most 3 short field names or facts
that drove the decision. Include every input item exactly once.`

// oracleItem is the trimmed item view serialized into the prompt.
type oracleItem struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Type               string   `json:"type"`
	Category           string   `json:"category,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	BusinessValue      float64  `json:"businessValue,omitempty"`
	StrategicAlignment float64  `json:"strategicAlignment,omitempty"`
	ROI                float64  `json:"roi,omitempty"`
	RiskLevel          string   `json:"riskLevel,omitempty"`
	Complexity         string   `json:"complexity,omitempty"`
	Lifecycle          string   `json:"lifecycle,omitempty"`
	ActiveUsers        *int     `json:"activeUsers,omitempty"`
	Dependencies       []string `json:"dependencies,omitempty"`
}

func buildUserPrompt(items []models.PortfolioItem, sc models.StrategicContext) (string, error) {
	trimmed := make([]oracleItem, 0, len(items))
	for _, it := range items {
		trimmed = append(trimmed, oracleItem{
			ID:                 it.ID,
			Name:               it.Name,
			Type:               string(it.Type),
			Category:           it.Category,
			Tags:               it.Tags,
			BusinessValue:      it.BusinessValue,
			StrategicAlignment: it.StrategicAlignment,
			ROI:                it.ROI,
			RiskLevel:          string(it.RiskLevel),
			Complexity:         string(it.Complexity),
			Lifecycle:          string(it.Lifecycle),
			ActiveUsers:        it.ActiveUsers,
			Dependencies:       it.Dependencies,
		})
	}
	payload, err := json.Marshal(trimmed)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if sc.Industry != "" || len(sc.Goals) > 0 || sc.BudgetPosture != "" || sc.CompanySize != "" {
		b.WriteString("Strategic context:\n")
		if sc.Industry != "" {
			b.WriteString("- industry: " + sc.Industry + "\n")
		}
		for _, goal := range sc.Goals {
			b.WriteString("- goal: " + goal + "\n")
		}
		if sc.BudgetPosture != "" {
			b.WriteString("- budget posture: " + sc.BudgetPosture + "\n")
		}
		if sc.CompanySize != "" {
			b.WriteString("- company size: " + sc.CompanySize + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Portfolio items:\n")
	b.Write(payload)
	return b.String(), nil
}

func parseClassifiedResponse(text string) ([]models.TriageResult, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var classified []classifiedItem
	if err := json.Unmarshal([]byte(text), &classified); err != nil {
		return nil, fmt.Errorf("parsing oracle response: %w", err)
	}

	results := make([]models.TriageResult, 0, len(classified))
	for _, c := range classified {
		results = append(results, models.TriageResult{
			ItemID:     strings.TrimSpace(c.ID),
			Category:   models.TriageCategory(strings.ToUpper(strings.TrimSpace(c.Category))),
			Confidence: c.Confidence,
			Reasoning:  strings.TrimSpace(c.Reasoning),
			KeySignals: c.KeySignals,
		})
	}
	return results, nil
}
