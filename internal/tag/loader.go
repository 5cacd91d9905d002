package tag

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileEntry is one tag as written in the tag map file.
type fileEntry struct {
	Node    string `yaml:"node"`
	Topic   string `yaml:"topic"`
	Type    string `yaml:"type"`
	Command *bool  `yaml:"command"`
}

// LoadFile reads a YAML tag map and builds a Registry.
//
// The file is a mapping of tag name to entry:
//
//	temperature:
//	  node: "ns=2;s=Line1.Temperature"
//	  topic: "line1/temp"
//	  type: "Float"
//	  command: true
//
// Tags keep the order they appear in the file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading tag map: %w", ErrConfig, err)
	}
	defs, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Load(defs)
}

// Parse decodes a YAML tag map into definitions without validating them.
// Unknown type names are carried through so Load can report them.
func Parse(data []byte) ([]Definition, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: parsing tag map: %w", ErrConfig, err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: tag map must be a mapping of tag name to entry", ErrConfig)
	}

	defs := make([]Definition, 0, len(doc.Content)/2)
	for i := 0; i+1 < len(doc.Content); i += 2 {
		name := doc.Content[i].Value

		var e fileEntry
		if err := doc.Content[i+1].Decode(&e); err != nil {
			return nil, fmt.Errorf("%w: tag %s: %w", ErrConfig, name, err)
		}

		vt, err := ParseValueType(e.Type)
		if err != nil {
			vt = ValueType(e.Type)
		}

		command := true
		if e.Command != nil {
			command = *e.Command
		}

		defs = append(defs, Definition{
			Name:        name,
			Address:     e.Node,
			TopicSuffix: e.Topic,
			Type:        vt,
			Command:     command,
		})
	}
	return defs, nil
}
