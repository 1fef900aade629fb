// Package schema validates raw template documents against the embedded JSON schema.
package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed template.schema.json
var templateSchema []byte

// ErrInvalidDocument indicates a document does not match the template schema.
var ErrInvalidDocument = errors.New("invalid template document")

// ValidationError lists every schema violation of a document.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidDocument, strings.Join(e.Violations, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidDocument
}

var compiled = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(templateSchema))
})

// Template returns the raw template schema.
func Template() []byte {
	return templateSchema
}

// ValidateTemplate checks a JSON template document against the schema.
func ValidateTemplate(document []byte) error {
	schema, err := compiled()
	if err != nil {
		return fmt.Errorf("failed to compile template schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	if !result.Valid() {
		violations := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			violations = append(violations, desc.String())
		}

		return &ValidationError{Violations: violations}
	}

	return nil
}
