// Package resolver implements the {{NodeName.path}} substitution language
// (C2): Interpolate for string templates, Resolve for type-preserving
// single references, following the $nodes.* resolver pattern but over
// the engine's {{...}} syntax and in-memory node-output/variable maps
// instead of a CAS load.
package resolver

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Store is the read-only view over current execution state the resolver
// needs. The scheduler's ExecutionContext implements this.
type Store interface {
	// NodeOutput returns the current output of the node with the given
	// display name, and whether that name is known.
	NodeOutput(name string) (any, bool)
	// Variable returns a variable's value by key.
	Variable(key string) (any, bool)
	// Input returns the workflow's input value, for "workflow.input".
	Input() any
}

var refPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Resolver resolves {{Name.path}} references against a Store.
type Resolver struct{}

// New creates a Resolver.
func New() *Resolver { return &Resolver{} }

// Interpolate substitutes every {{...}} occurrence in text with the
// stringification of its resolved value: JSON-encoded for non-strings,
// empty string for an undefined reference.
func (r *Resolver) Interpolate(text string, store Store) string {
	return refPattern.ReplaceAllStringFunc(text, func(match string) string {
		inner := strings.TrimSpace(match[2 : len(match)-2])
		value, ok := r.resolveExpr(inner, store)
		if !ok || value == nil {
			return ""
		}
		return stringify(value)
	})
}

// Resolve returns the raw, type-preserving value of a single reference
// "{{Name.path}}" (braces optional — callers may pass the bare
// "Name.path" form too). Returns (nil, false) if the reference is
// unresolvable.
func (r *Resolver) Resolve(ref string, store Store) (any, bool) {
	trimmed := strings.TrimSpace(ref)
	trimmed = strings.TrimPrefix(trimmed, "{{")
	trimmed = strings.TrimSuffix(trimmed, "}}")
	return r.resolveExpr(strings.TrimSpace(trimmed), store)
}

// IsDirectReference reports whether text is entirely a single {{...}}
// reference with nothing else around it — the "direct reference" case in
// §4.5 that condition executors rely on to get type-preserving values.
func IsDirectReference(text string) bool {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{{") || !strings.HasSuffix(trimmed, "}}") {
		return false
	}
	inner := trimmed[2 : len(trimmed)-2]
	return !strings.Contains(inner, "{{") && !strings.Contains(inner, "}}")
}

// resolveExpr resolves "Name.path" or "Name" (without braces) against the
// store: node name + path takes precedence; otherwise falls back to
// "workflow.input" or a variable lookup.
func (r *Resolver) resolveExpr(expr string, store Store) (any, bool) {
	name, path, _ := strings.Cut(expr, ".")

	if expr == "workflow.input" {
		return store.Input(), true
	}

	if output, ok := store.NodeOutput(name); ok {
		if path == "" {
			return output, true
		}
		return applyPath(output, path)
	}

	// Not a known node name: try the variable map under the full
	// expression first (e.g. "myVar"), then under the leading segment.
	if v, ok := store.Variable(expr); ok {
		return v, true
	}
	if v, ok := store.Variable(name); ok {
		if path == "" {
			return v, true
		}
		return applyPath(v, path)
	}

	return nil, false
}

// applyPath evaluates a dot/bracket path ("foo", "foo.bar", "foo[0].bar")
// against value, normalizing string values to expose both `result` and
// `prompt`, per §3's Reference definition.
func applyPath(value any, path string) (any, bool) {
	normalized := normalize(value)

	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, false
	}

	result := gjson.GetBytes(raw, gjsonPath(path))
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

// gjsonPath rewrites the reference's bracket-index syntax foo[0].bar into
// gjson's own foo.0.bar form.
func gjsonPath(path string) string {
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '[':
			b.WriteByte('.')
		case ']':
			// skip
		default:
			b.WriteByte(path[i])
		}
	}
	return b.String()
}

// normalize exposes a plain string output as an object with both `result`
// and `prompt` keys so downstream references like {{A.result}} and
// {{A.prompt}} both work, per §3.
func normalize(value any) any {
	if s, ok := value.(string); ok {
		return map[string]any{"result": s, "prompt": s}
	}
	return value
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
