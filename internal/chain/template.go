package chain

import (
	"fmt"
	"sort"
	"strings"
)

// TemplateError reports a malformed template or one whose placeholders are
// not covered by the run's variables. It is a configuration error.
type TemplateError struct {
	Step    int
	Missing []string
	Reason  string
}

func (e *TemplateError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("chain step %d: unresolved placeholders %s", e.Step, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("chain step %d: %s", e.Step, e.Reason)
}

// placeholders lists the {name} fields of tmpl. Doubled braces are literals.
func placeholders(tmpl string) ([]string, error) {
	var names []string
	err := walk(tmpl, func(lit string) {}, func(name string) { names = append(names, name) })
	return names, err
}

// render substitutes vars into tmpl. Callers pre-validate with placeholders.
func render(tmpl string, vars map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))
	err := walk(tmpl,
		func(lit string) { b.WriteString(lit) },
		func(name string) { b.WriteString(vars[name]) },
	)
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

func walk(tmpl string, onLit func(string), onField func(string)) error {
	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			onLit("{")
			i += 2
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			onLit("}")
			i += 2
		case c == '{':
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return fmt.Errorf("unclosed '{' at offset %d", i)
			}
			name := tmpl[i+1 : i+1+end]
			if !validName(name) {
				return fmt.Errorf("invalid placeholder %q at offset %d", name, i)
			}
			onField(name)
			i += end + 2
		case c == '}':
			return fmt.Errorf("single '}' at offset %d", i)
		default:
			j := i
			for j < len(tmpl) && tmpl[j] != '{' && tmpl[j] != '}' {
				j++
			}
			onLit(tmpl[i:j])
			i = j
		}
	}
	return nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// checkVariables verifies every step of c before anything runs.
func checkVariables(c Chain, vars map[string]string) error {
	for i, s := range c.steps {
		names, err := placeholders(s.Template)
		if err != nil {
			return &TemplateError{Step: i, Reason: err.Error()}
		}
		missing := map[string]struct{}{}
		for _, n := range names {
			if _, ok := vars[n]; !ok {
				missing[n] = struct{}{}
			}
		}
		if len(missing) > 0 {
			out := make([]string, 0, len(missing))
			for n := range missing {
				out = append(out, n)
			}
			sort.Strings(out)
			return &TemplateError{Step: i, Missing: out}
		}
	}
	return nil
}
