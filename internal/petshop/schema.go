package petshop

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// CompileSchema compiles an extra pet document schema from an inline string
// or a file path. It returns nil when neither is set.
func CompileSchema(inline, file string) (*jsonschema.Schema, error) {
	var raw []byte
	switch {
	case inline != "":
		raw = []byte(inline)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file: %w", err)
		}
		raw = data
	default:
		return nil, nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSON schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("pet.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := c.Compile("pet.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return schema, nil
}

// checkSchema validates body against the configured schema, if any.
func (s *Service) checkSchema(body []byte) error {
	if s.schema == nil {
		return nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return s.invalid("body is not valid JSON")
	}
	if err := s.schema.Validate(doc); err != nil {
		// Multi-line output; the first line names the failing location.
		msg, _, _ := strings.Cut(err.Error(), "\n")
		return s.invalid("schema: " + msg)
	}
	return nil
}
