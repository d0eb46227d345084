package orchestrator

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/domain"
)

const (
	minSatisfaction = 1
	maxSatisfaction = 10
	// defaultSatisfaction is used when the monitor output carries no score.
	defaultSatisfaction = maxSatisfaction
)

var (
	labelledScorePattern = regexp.MustCompile(`(?i)(?:satisfaction|score|rating)["'\s]*(?:[:=]|is|of)?\s*(-?\d+(?:\.\d+)?)`)
	outOfTenPattern      = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*(?:/|out of)\s*10\b`)
	bareScorePattern     = regexp.MustCompile(`\b(10|[1-9])\b`)
	feedbackPattern      = regexp.MustCompile(`(?im)(?:feedback|suggestions?)["']?\s*[:=]\s*(.+)$`)
)

type evaluationPayload struct {
	Satisfaction json.RawMessage `json:"satisfaction"`
	Score        json.RawMessage `json:"score"`
	Feedback     json.RawMessage `json:"feedback"`
	Suggestions  json.RawMessage `json:"suggestions"`
}

// ParseEvaluation extracts a satisfaction score in [1,10] and optional
// feedback from monitor output. Structured JSON is tried first, then a
// labelled number ("satisfaction: 6", "7/10"), then the first standalone
// 1-10 number; output with no score at all is treated as passing.
func ParseEvaluation(raw string) domain.Evaluation {
	if body, ok := extractJSONObject(raw); ok {
		var payload evaluationPayload
		if err := json.Unmarshal(body, &payload); err == nil {
			scoreRaw := payload.Satisfaction
			if len(scoreRaw) == 0 {
				scoreRaw = payload.Score
			}
			if score, ok := numberField(scoreRaw); ok {
				feedback := textField(payload.Feedback)
				if feedback == "" {
					feedback = textField(payload.Suggestions)
				}
				return domain.Evaluation{Satisfaction: clampScore(score), Feedback: feedback}
			}
		}
	}

	for _, pattern := range []*regexp.Regexp{labelledScorePattern, outOfTenPattern, bareScorePattern} {
		if m := pattern.FindStringSubmatch(raw); len(m) == 2 {
			if score, err := strconv.ParseFloat(m[1], 64); err == nil {
				return domain.Evaluation{Satisfaction: clampScore(score), Feedback: extractFeedback(raw)}
			}
		}
	}
	return domain.Evaluation{Satisfaction: defaultSatisfaction}
}

func numberField(raw json.RawMessage) (float64, bool) {
	text := textField(raw)
	if text == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// clampScore bounds v before converting; float to int conversion of an
// out-of-range value is implementation-defined.
func clampScore(v float64) int {
	if v >= maxSatisfaction {
		return maxSatisfaction
	}
	if v <= minSatisfaction {
		return minSatisfaction
	}
	return int(math.Round(v))
}

func extractFeedback(raw string) string {
	m := feedbackPattern.FindStringSubmatch(raw)
	if len(m) != 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
