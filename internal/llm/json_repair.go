package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var codeFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// RepairJSON extracts a JSON object from model output and repairs it.
// Handles fenced code blocks, prose around the object, trailing commas,
// single quotes and truncated output.
func RepairJSON(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", fmt.Errorf("empty structured output")
	}
	if json.Valid([]byte(candidate)) {
		return candidate, nil
	}

	if m := codeFence.FindStringSubmatch(candidate); m != nil {
		candidate = m[1]
	}
	if start := strings.Index(candidate, "{"); start > 0 {
		candidate = candidate[start:]
	}
	if end := strings.LastIndex(candidate, "}"); end >= 0 && end < len(candidate)-1 {
		candidate = candidate[:end+1]
	}
	if json.Valid([]byte(candidate)) {
		return candidate, nil
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return "", fmt.Errorf("JSON repair failed: %w", err)
	}
	if !json.Valid([]byte(repaired)) {
		return "", fmt.Errorf("JSON repair produced invalid output")
	}
	return repaired, nil
}
