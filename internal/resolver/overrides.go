package resolver

import (
	"encoding/json"
	"fmt"
	"os"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/haasonsaas/ablate/pkg/models"
)

// Overrides supplies document content for specific URLs, bypassing both the
// cache and the provider. Each value is either a bare record
// ({"id","title","url","text"}) or a provider envelope ({"results":[...]})
// whose first result is used.
type Overrides map[string]json.RawMessage

// Document decodes the override for url. ok is false when url has no override.
func (o Overrides) Document(url string) (doc models.Document, ok bool, err error) {
	raw, ok := o[url]
	if !ok {
		return models.Document{}, false, nil
	}
	doc, err = models.DecodeProviderRecord(url, raw)
	if err != nil {
		return models.Document{}, true, fmt.Errorf("decode override for %s: %w", url, err)
	}
	return doc, true, nil
}

// LoadOverrides reads an overrides file. JSON and JSON5 are both accepted.
func LoadOverrides(path string) (Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overrides: %w", err)
	}
	var raw map[string]any
	if err := json5.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse overrides %s: %w", path, err)
	}
	overrides := make(Overrides, len(raw))
	for url, value := range raw {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode override for %s: %w", url, err)
		}
		overrides[url] = encoded
	}
	return overrides, nil
}
