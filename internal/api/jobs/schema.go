package jobs

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed create_job.schema.json
var createJobSchemaJSON []byte

const createJobSchemaURL = "https://jobwatch.stacklok.dev/schemas/create-job.json"

// compileCreateJobSchema compiles the embedded create request schema
func compileCreateJobSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(createJobSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse create job schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(createJobSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add create job schema: %w", err)
	}

	schema, err := c.Compile(createJobSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile create job schema: %w", err)
	}
	return schema, nil
}

// validateCreateBody checks a raw request body against the schema.
// It returns errMalformedBody when the body is not JSON.
func validateCreateBody(schema *jsonschema.Schema, body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return errMalformedBody
	}

	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("request does not match schema: %s", flattenValidationError(err))
	}
	return nil
}

// flattenValidationError turns a multi-line validation report into one line
func flattenValidationError(err error) string {
	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[i]), "-"))
	}
	return strings.Join(lines, "; ")
}
