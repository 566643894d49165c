package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// DecodeJSON extracts the first JSON object from a model reply, tolerating
// markdown code fences and surrounding prose.
func DecodeJSON(text string, out any) error {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return eris.Errorf("anthropic: no JSON object in reply %q", truncate(text, 80))
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), out); err != nil {
		return eris.Wrap(err, "anthropic: decode JSON reply")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
