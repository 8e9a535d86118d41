// File: internal/llm/extract.go
package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/nulltrace0/webagentd/api/schemas"
)

var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

// ExtractJSON robustly extracts a JSON object from a model response, handling
// markdown code fences or raw JSON with surrounding prose.
func ExtractJSON(response string) (string, error) {
	response = strings.TrimSpace(response)
	var candidate string

	matches := jsonBlockRegex.FindStringSubmatch(response)
	if len(matches) > 1 {
		candidate = strings.TrimSpace(matches[1])
	} else {
		firstBracket := strings.Index(response, "{")
		lastBracket := strings.LastIndex(response, "}")
		if firstBracket != -1 && lastBracket > firstBracket {
			candidate = response[firstBracket : lastBracket+1]
		} else {
			candidate = response
		}
	}

	if candidate == "" || !strings.HasPrefix(candidate, "{") {
		return "", &schemas.Error{Code: schemas.ErrCodeModelParse, Message: "could not find any JSON object in the model response"}
	}
	return candidate, nil
}

// Repair attempts before giving up on a model that will not emit valid JSON.
const maxRepairAttempts = 2

// GenerateObject calls the model and unmarshals its reply into out. When the
// reply is not a valid JSON object, the model is asked again with the
// offending output quoted back at it, up to maxRepairAttempts times.
func GenerateObject(ctx context.Context, client schemas.LLMClient, req schemas.GenerationRequest, out any) error {
	current := req
	var lastErr error

	for attempt := 0; attempt <= maxRepairAttempts; attempt++ {
		response, err := client.Generate(ctx, current)
		if err != nil {
			return err
		}

		candidate, err := ExtractJSON(response)
		if err == nil {
			if err = json.Unmarshal([]byte(candidate), out); err == nil {
				return nil
			}
		}
		lastErr = err

		offending := response
		if len(offending) > 500 {
			offending = offending[:500]
		}
		current = req
		current.UserPrompt = req.UserPrompt +
			"\n\nYour previous reply was not a single valid JSON object:\n" + offending +
			"\nReturn ONLY one valid JSON object, nothing else."
	}

	return &schemas.Error{
		Code:    schemas.ErrCodeModelParse,
		Message: fmt.Sprintf("model never produced parseable JSON after %d repair attempts: %v", maxRepairAttempts, lastErr),
	}
}
