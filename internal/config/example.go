package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// WriteExample writes the default configuration to path, as JSON when the
// extension is .json and YAML otherwise.
func WriteExample(path string) error {
	doc := nest(flatten(Default()))
	doc["server"].(map[string]interface{})["api_keys"] = []string{"change-me"}

	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(doc, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(doc)
		data = append([]byte("# Carelink configuration. Every key can be overridden with CARELINK_<SECTION>_<KEY>.\n"), data...)
	}
	if err != nil {
		return fmt.Errorf("encoding example config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// nest turns dotted keys into nested maps.
func nest(flat map[string]interface{}) map[string]interface{} {
	root := make(map[string]interface{})
	for key, value := range flat {
		parts := strings.Split(key, ".")
		m := root
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]interface{})
			if !ok {
				next = make(map[string]interface{})
				m[p] = next
			}
			m = next
		}
		m[parts[len(parts)-1]] = value
	}
	return root
}
