package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// DecodeJSON unmarshals model output requested via response_format into v.
// Models frequently wrap JSON in markdown fences or emit slightly broken
// JSON; a failed unmarshal is retried once through jsonrepair.
func DecodeJSON(content string, v any) error {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	if err := json.Unmarshal([]byte(content), v); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(content)
		if repairErr != nil {
			return fmt.Errorf("failed to unmarshal model output: %w (repair failed: %v)", err, repairErr)
		}
		if err := json.Unmarshal([]byte(repaired), v); err != nil {
			return fmt.Errorf("failed to unmarshal repaired model output: %w", err)
		}
	}
	return nil
}
