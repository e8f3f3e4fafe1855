// Package catalogue loads and validates declarative rule catalogues.
package catalogue

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
)

var compiled *gojsonschema.Schema

func init() {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(Schema))
	if err != nil {
		panic(fmt.Sprintf("catalogue schema: %v", err))
	}
	compiled = s
}

// LoadCatalogue reads, validates and decodes a catalogue file.
func LoadCatalogue(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse validates a catalogue document against Schema and decodes it.
func Parse(data []byte) (*Catalogue, error) {
	problems, err := Validate(data)
	if err != nil {
		return nil, err
	}
	if len(problems) > 0 {
		return nil, &InvalidError{Problems: problems}
	}

	var cat Catalogue
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}
	return &cat, nil
}

// Validate returns the schema violations of a catalogue document.
func Validate(data []byte) ([]string, error) {
	result, err := compiled.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return problems, nil
}

// InvalidError lists the schema violations of a rejected catalogue.
type InvalidError struct {
	Problems []string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("catalogue violates schema (%d problems): %v", len(e.Problems), e.Problems)
}
