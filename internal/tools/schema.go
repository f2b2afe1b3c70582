package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// compileSchema compiles a tool's parameter schema. Go literals such as
// []string enums are normalized through JSON first. A nil schema
// compiles to nil, which accepts anything.
func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		return nil, nil
	}
	doc, err := toJSONValue(params)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	url := "https://kyle.invalid/tools/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return sch, nil
}

// Validate checks args against a JSON Schema object. All violations are
// reported, sorted by path. Arguments the model sent as malformed JSON
// arrive as a lone "_raw" key and are rejected before the schema runs.
func Validate(schema map[string]any, args map[string]any) error {
	if err := rawArguments(args); err != nil {
		return err
	}
	sch, err := compileSchema("adhoc", schema)
	if err != nil {
		return err
	}
	return validateArgs(sch, args)
}

func rawArguments(args map[string]any) error {
	if raw, ok := args["_raw"]; ok && len(args) == 1 {
		return fmt.Errorf("arguments are not valid JSON: %v", raw)
	}
	return nil
}

func validateArgs(sch *jsonschema.Schema, args map[string]any) error {
	if err := rawArguments(args); err != nil {
		return err
	}
	if sch == nil {
		return nil
	}
	inst, err := toJSONValue(args)
	if err != nil {
		return fmt.Errorf("arguments are not encodable: %w", err)
	}
	err = sch.Validate(inst)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	var problems []string
	collectProblems(verr, &problems)
	if len(problems) == 0 {
		return errors.New(verr.Error())
	}
	sort.Strings(problems)
	return errors.New(strings.Join(problems, "; "))
}

// toJSONValue round-trips v through JSON so the validator sees the same
// shapes a decoded tool call would have.
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}

func collectProblems(e *jsonschema.ValidationError, problems *[]string) {
	if len(e.Causes) > 0 {
		for _, cause := range e.Causes {
			collectProblems(cause, problems)
		}
		return
	}
	path := instancePath(e.InstanceLocation)
	switch k := e.ErrorKind.(type) {
	case *kind.Required:
		for _, key := range k.Missing {
			*problems = append(*problems, fmt.Sprintf("%s: is required", join(path, key)))
		}
	case *kind.Type:
		*problems = append(*problems, fmt.Sprintf("%s: expected %s, got %s", label(path), strings.Join(k.Want, " or "), k.Got))
	case *kind.Enum:
		*problems = append(*problems, fmt.Sprintf("%s: must be one of %v", label(path), k.Want))
	case *kind.MinItems:
		*problems = append(*problems, fmt.Sprintf("%s: needs at least %d items", label(path), k.Want))
	default:
		*problems = append(*problems, fmt.Sprintf("%s: %s", label(path), e.ErrorKind.LocalizedString(printer)))
	}
}

// instancePath renders a JSON pointer as "movies[0].title".
func instancePath(tokens []string) string {
	var b strings.Builder
	for _, tok := range tokens {
		if isIndex(tok) {
			b.WriteString("[" + tok + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(tok)
	}
	return b.String()
}

func isIndex(tok string) bool {
	if tok == "" {
		return false
	}
	for _, r := range tok {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func label(path string) string {
	if path == "" {
		return "arguments"
	}
	return path
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
