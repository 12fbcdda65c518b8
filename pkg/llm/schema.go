package llm

import (
	"github.com/invopop/jsonschema"
)

// SchemaFor reflects a JSON schema from the structured-output target
// type. The schema is inlined (no $ref) so providers can embed it
// directly in a tool definition.
func SchemaFor(out any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(out)
}
