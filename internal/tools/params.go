package tools

// Object builds an object schema from property schemas.
func Object(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// Integer is an integer property.
func Integer(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

// String is a string property.
func String(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// Boolean is a boolean property.
func Boolean(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

// Enum is a string property restricted to values.
func Enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

// Array is an array property with at least minItems items of the
// given schema.
func Array(desc string, items map[string]any, minItems int) map[string]any {
	s := map[string]any{"type": "array", "description": desc, "items": items}
	if minItems > 0 {
		s["minItems"] = minItems
	}
	return s
}
