package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// IndexTemplate is the body of a composable index template
type IndexTemplate struct {
	IndexPatterns []string               `json:"index_patterns"`
	Priority      int                    `json:"priority,omitempty"`
	Template      map[string]interface{} `json:"template"`
}

// PutIndexTemplate creates or replaces a composable index template
func (c *Client) PutIndexTemplate(ctx context.Context, name string, template IndexTemplate) error {
	body, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("failed to encode index template %s: %w", name, err)
	}
	return c.do(ctx, "put index template", esapi.IndicesPutIndexTemplateRequest{
		Name: name,
		Body: bytes.NewReader(body),
	})
}

// KeywordTemplate builds a template mapping the given fields as keywords and
// timeField as a date.
func KeywordTemplate(pattern, timeField string, keywords ...string) IndexTemplate {
	properties := map[string]interface{}{
		timeField: map[string]interface{}{"type": "date"},
	}
	for _, k := range keywords {
		properties[k] = map[string]interface{}{"type": "keyword"}
	}
	return IndexTemplate{
		IndexPatterns: []string{pattern},
		Priority:      100,
		Template: map[string]interface{}{
			"settings": map[string]interface{}{
				"number_of_shards":   1,
				"number_of_replicas": 1,
			},
			"mappings": map[string]interface{}{
				"properties": properties,
			},
		},
	}
}
