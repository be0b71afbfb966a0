package ironbase

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ironbase/ironbase/internal/storage"
	"github.com/ironbase/ironbase/internal/util"
)

// compiledSchema wraps a compiled JSON Schema used by set_schema/insert/
// update to validate documents before they are written (spec §4: schema
// validation is enforced on write, not retroactively on existing documents).
type compiledSchema struct {
	schema *gojsonschema.Schema
}

// compileSchema compiles a raw JSON-Schema-shaped map, as passed to
// set_schema, into a reusable validator.
func compileSchema(raw map[string]interface{}) (*compiledSchema, error) {
	loader := gojsonschema.NewGoLoader(raw)
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, util.Wrap(util.KindInvalidArgument, "compile schema", err)
	}
	return &compiledSchema{schema: schema}, nil
}

// validate checks doc (converted back to plain Go values, since gojsonschema
// validates against encoding/json-shaped data) against the compiled schema.
func (cs *compiledSchema) validate(doc storage.Document) error {
	plain := storage.ToAny(storage.Map(doc))
	result, err := cs.schema.Validate(gojsonschema.NewGoLoader(plain))
	if err != nil {
		return util.Wrap(util.KindSchemaViolation, "schema validation", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return util.Wrap(util.KindSchemaViolation, strings.Join(msgs, "; "), nil)
}
