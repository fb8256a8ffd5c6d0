package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Verdict is the classification result.
type Verdict struct {
	Confidence int `json:"confidence"`
	// IsAI is nil when the model could not decide.
	IsAI        *bool    `json:"isAI"`
	Explanation string   `json:"explanation"`
	Sources     []string `json:"sources"`
}

// ParseVerdict decodes a model answer, stripping ``` or ```json fences.
func ParseVerdict(raw string) (Verdict, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return Verdict{}, errors.Join(ErrUnparseable, err)
	}
	for _, field := range []string{"confidence", "explanation"} {
		if _, ok := fields[field]; !ok {
			return Verdict{}, fmt.Errorf("%w: missing %q", ErrUnparseable, field)
		}
	}

	// Models occasionally answer with a fractional confidence.
	var w struct {
		Confidence  float64  `json:"confidence"`
		IsAI        *bool    `json:"isAI"`
		Explanation string   `json:"explanation"`
		Sources     []string `json:"sources"`
	}
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return Verdict{}, errors.Join(ErrUnparseable, err)
	}
	if w.Confidence < 0 || w.Confidence > 100 {
		return Verdict{}, fmt.Errorf("%w: confidence %v out of range", ErrUnparseable, w.Confidence)
	}
	v := Verdict{
		Confidence:  int(math.Round(w.Confidence)),
		IsAI:        w.IsAI,
		Explanation: w.Explanation,
		Sources:     w.Sources,
	}
	if v.Sources == nil {
		v.Sources = []string{}
	}
	return v, nil
}
