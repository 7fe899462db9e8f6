package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"reelforge/internal/models"
)

// ErrInvalidPlan marks a model response that is not a usable ScriptPlan.
var ErrInvalidPlan = errors.New("invalid script plan")

var fenced = regexp.MustCompile("(?is)```(?:json\\s*)?\\n?(.*?)\\n?```")

// ParsePlan accepts a raw JSON document or one wrapped in a fenced code block.
// The plan must carry at least a video title.
func ParsePlan(content string) (*models.ScriptPlan, error) {
	var plan models.ScriptPlan
	rawErr := json.Unmarshal([]byte(strings.TrimSpace(content)), &plan)
	if rawErr != nil {
		m := fenced.FindStringSubmatch(content)
		if m == nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, rawErr)
		}
		plan = models.ScriptPlan{}
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &plan); err != nil {
			return nil, fmt.Errorf("%w: fenced block: %v", ErrInvalidPlan, err)
		}
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	return &plan, nil
}
