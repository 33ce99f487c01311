package http

import (
	_ "embed"
	"encoding/json"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openAPIYAML []byte

var (
	openAPIJSON     []byte
	openAPIJSONOnce sync.Once
	openAPIJSONErr  error
)

// getOpenAPIJSON returns the OpenAPI specification as JSON.
// The embedded YAML is converted on first access and cached.
func getOpenAPIJSON() ([]byte, error) {
	openAPIJSONOnce.Do(func() {
		openAPIJSON, openAPIJSONErr = convertOpenAPIToJSON(openAPIYAML)
	})
	return openAPIJSON, openAPIJSONErr
}

// convertOpenAPIToJSON converts the YAML specification to JSON.
func convertOpenAPIToJSON(yamlData []byte) ([]byte, error) {
	var spec interface{}
	if err := yaml.Unmarshal(yamlData, &spec); err != nil {
		return nil, err
	}

	spec = yamlToJSONValue(spec)

	return json.MarshalIndent(spec, "", "  ")
}

// yamlToJSONValue recursively converts YAML map keys to strings
// (YAML allows non-string keys, JSON requires string keys).
func yamlToJSONValue(v interface{}) interface{} {
	switch v := v.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, value := range v {
			result[key] = yamlToJSONValue(value)
		}
		return result
	case map[interface{}]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, value := range v {
			strKey, ok := key.(string)
			if !ok {
				continue
			}
			result[strKey] = yamlToJSONValue(value)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, value := range v {
			result[i] = yamlToJSONValue(value)
		}
		return result
	default:
		return v
	}
}
