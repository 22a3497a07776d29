package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed config.schema.json
var schemaJSON []byte

const schemaURL = "config.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func configSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// validateSchema checks a decoded document against the embedded schema and
// reports each violation as a ValidationError.
func validateSchema(doc any) error {
	schema, err := configSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	err = schema.Validate(doc)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	var errs ValidationErrors
	collectSchemaErrors(verr, &errs)
	if len(errs) == 0 {
		errs = append(errs, ValidationError{Field: "(root)", Message: verr.Message})
	}
	return errs
}

func collectSchemaErrors(e *jsonschema.ValidationError, out *ValidationErrors) {
	if len(e.Causes) == 0 {
		*out = append(*out, ValidationError{Field: fieldName(e.InstanceLocation), Message: e.Message})
		return
	}
	for _, c := range e.Causes {
		collectSchemaErrors(c, out)
	}
}

// fieldName turns a JSON pointer such as /audio/frame_ms into audio.frame_ms.
func fieldName(pointer string) string {
	f := strings.ReplaceAll(strings.TrimPrefix(pointer, "/"), "/", ".")
	if f == "" {
		return "(root)"
	}
	return f
}
