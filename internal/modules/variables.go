package modules

import (
	"slices"
	"strings"
)

const (
	modelScope  = "model."
	moduleScope = "module."
)

// Variables resolves ${name} references in model content. Model variables
// shadow module variables; ${model.name} and ${module.name} look in one scope
// only.
type Variables struct {
	Model  map[string]string
	Module map[string]string
}

// Lookup returns the value of a reference name.
func (v Variables) Lookup(name string) (string, bool) {
	if rest, ok := strings.CutPrefix(name, modelScope); ok {
		val, found := v.Model[rest]
		return val, found
	}
	if rest, ok := strings.CutPrefix(name, moduleScope); ok {
		val, found := v.Module[rest]
		return val, found
	}
	if val, ok := v.Model[name]; ok {
		return val, true
	}
	val, ok := v.Module[name]
	return val, ok
}

// Expand replaces the references in s. Unknown, empty and unclosed
// references are kept verbatim; the names of unknown ones are returned.
func (v Variables) Expand(s string) (string, []string) {
	if !strings.Contains(s, "${") {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	var unresolved []string

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "${")
		if idx == -1 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(s[i : i+idx])
		start := i + idx + 2

		end := strings.IndexByte(s[start:], '}')
		if end == -1 {
			b.WriteString(s[i+idx:])
			break
		}
		end += start

		name := strings.TrimSpace(s[start:end])
		if name == "" || strings.Contains(name, "${") {
			// Keep "${" and rescan from inside it.
			b.WriteString("${")
			i = start
			continue
		}
		if val, ok := v.Lookup(name); ok {
			b.WriteString(val)
		} else {
			unresolved = append(unresolved, name)
			b.WriteString(s[i+idx : end+1])
		}
		i = end + 1
	}
	return b.String(), unresolved
}

// ExpandContent returns a copy of content with every string value expanded,
// and the sorted names of the references which could not be resolved. Keys
// are left untouched and content itself is never modified.
func (v Variables) ExpandContent(content map[string]any) (map[string]any, []string) {
	if content == nil {
		return nil, nil
	}
	var unresolved []string
	out := v.expandValue(content, &unresolved).(map[string]any)
	slices.Sort(unresolved)
	return out, slices.Compact(unresolved)
}

func (v Variables) expandValue(val any, unresolved *[]string) any {
	switch t := val.(type) {
	case string:
		s, missing := v.Expand(t)
		*unresolved = append(*unresolved, missing...)
		return s
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = v.expandValue(e, unresolved)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = v.expandValue(e, unresolved)
		}
		return s
	default:
		return val
	}
}
