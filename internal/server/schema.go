package server

import (
	"embed"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Request body schemas.
const (
	schemaToolPolicy       = "tool_policy"
	schemaRule             = "rule"
	schemaSimulate         = "simulate"
	schemaGuardCheck       = "guard_check"
	schemaToolEvaluate     = "tool_evaluate"
	schemaApprovalDecision = "approval_decision"
)

var (
	schemaMu    sync.Mutex
	schemaCache = map[string]*gojsonschema.Schema{}
)

func compiledSchema(name string) (*gojsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	if s, ok := schemaCache[name]; ok {
		return s, nil
	}
	data, err := schemaFS.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", name, err)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", name, err)
	}
	schemaCache[name] = s
	return s, nil
}

// validateBody checks raw JSON against the named schema. It returns the
// violations, or an error if the schema itself is unusable or the body is
// not JSON.
func validateBody(name string, body []byte) ([]string, error) {
	schema, err := compiledSchema(name)
	if err != nil {
		return nil, err
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("validating request body: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}
