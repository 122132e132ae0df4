package prompt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type templateFile struct {
	Messages []Part `yaml:"messages"`
}

// LoadFile reads a YAML template of the form:
//
//	messages:
//	  - role: system
//	    content: "Translate the following into {language}:"
//	  - role: user
//	    content: "{text}"
func LoadFile(path string) (Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("read template: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML template document.
func Parse(data []byte) (Template, error) {
	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Template{}, fmt.Errorf("parse template: %w", err)
	}
	t, err := New(file.Messages...)
	if err != nil {
		return Template{}, fmt.Errorf("parse template: %w", err)
	}
	return t, nil
}
