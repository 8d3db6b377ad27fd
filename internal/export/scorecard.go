package export

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const defaultModelName = "automated-moderation"

// Score thresholds used when a moderation record carries no usable decision.
const (
	BlockThreshold = 0.85
	FlagThreshold  = 0.5
)

// ScoreCard is the numeric-only summary of one moderation record.
type ScoreCard struct {
	ContentID string   `json:"content_id"`
	CreatedAt string   `json:"created_at"`
	ModelName string   `json:"model_name"`
	RiskScore float64  `json:"risk_score"`
	LabelSet  []string `json:"label_set"`
	Decision  string   `json:"decision"`
}

// BuildScoreCards derives score cards from redacted moderation records.
// Records without a resolvable content id are dropped.
func BuildScoreCards(records []map[string]any) []ScoreCard {
	cards := make([]ScoreCard, 0, len(records))
	for _, rec := range records {
		contentID := firstString(rec, "contentId", "content_id", "id", "itemId", "item_id")
		if contentID == "" {
			continue
		}

		score := clamp(firstNumber(rec, "riskScore", "score"))
		cards = append(cards, ScoreCard{
			ContentID: contentID,
			CreatedAt: firstString(rec, "createdAt", "created_at"),
			ModelName: modelName(rec),
			RiskScore: score,
			LabelSet:  labels(rec),
			Decision:  decision(rec, score),
		})
	}
	return cards
}

// DecisionForScore maps a risk score onto allow, flag or block.
func DecisionForScore(score float64) string {
	switch {
	case score >= BlockThreshold:
		return "block"
	case score >= FlagThreshold:
		return "flag"
	default:
		return "allow"
	}
}

func decision(rec map[string]any, score float64) string {
	raw := strings.ToLower(firstString(rec, "decision", "action"))
	switch raw {
	case "allow", "flag", "block":
		return raw
	default:
		return DecisionForScore(score)
	}
}

func modelName(rec map[string]any) string {
	if name := firstString(rec, "modelName"); name != "" {
		return name
	}
	if model, ok := rec["model"].(map[string]any); ok {
		if name, ok := model["name"].(string); ok && name != "" {
			return name
		}
	}
	return defaultModelName
}

func labels(rec map[string]any) []string {
	for _, key := range []string{"labels", "labelSet"} {
		items, ok := rec[key].([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return []string{}
}

func firstString(rec map[string]any, keys ...string) string {
	for _, key := range keys {
		switch value := rec[key].(type) {
		case string:
			if strings.TrimSpace(value) != "" {
				return value
			}
		case float64, int, int64, json.Number:
			return fmt.Sprint(value)
		}
	}
	return ""
}

func firstNumber(rec map[string]any, keys ...string) float64 {
	for _, key := range keys {
		switch value := rec[key].(type) {
		case float64:
			return value
		case int:
			return float64(value)
		case int64:
			return float64(value)
		case json.Number:
			if parsed, err := value.Float64(); err == nil {
				return parsed
			}
		case string:
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
				return parsed
			}
		}
	}
	return 0
}

func clamp(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return math.Min(math.Max(score, 0), 1)
}
