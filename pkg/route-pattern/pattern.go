package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrInvalidTemplate = errors.New("invalid route template")
	ErrDuplicateParam  = errors.New("duplicate route parameter")
)

// Wildcard marks a template that is matched without anchors.
// It is meant for catch-all registrations such as preflight handling (`/api/.*`).
const Wildcard = ".*"

var placeholderRe = regexp.MustCompile(`:(\w+)`)

// Params maps placeholder names to the path segments they captured.
// Values are never coerced; callers parse numbers themselves.
type Params map[string]string

// Pattern is a compiled path template.
type Pattern struct {
	template string
	re       *regexp.Regexp
	names    []string
	wildcard bool
}

// Compile converts a path template into a matcher.
// A `:name` segment captures one or more word characters and binds them to `name`.
// Templates containing the wildcard marker are compiled unanchored,
// all other templates must match the full path.
func Compile(template string) (*Pattern, error) {
	if template == "" {
		return nil, fmt.Errorf("%w: empty template", ErrInvalidTemplate)
	}
	wildcards := strings.Count(template, Wildcard)
	if wildcards > 1 {
		return nil, fmt.Errorf("%w: more than one wildcard in %q", ErrInvalidTemplate, template)
	}
	if strings.Count(template, "*") != wildcards {
		return nil, fmt.Errorf("%w: '*' must be written as %q in %q", ErrInvalidTemplate, Wildcard, template)
	}

	p := &Pattern{
		template: template,
		wildcard: wildcards == 1,
	}

	var expr strings.Builder
	if !p.wildcard {
		expr.WriteString("^")
	}
	before, after, _ := strings.Cut(template, Wildcard)
	if err := p.translate(&expr, before); err != nil {
		return nil, err
	}
	if p.wildcard {
		expr.WriteString(Wildcard)
		if err := p.translate(&expr, after); err != nil {
			return nil, err
		}
	} else {
		expr.WriteString("$")
	}

	re, err := regexp.Compile(expr.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTemplate, err)
	}
	p.re = re
	return p, nil
}

// translate appends the regular expression for a template fragment without wildcards.
// Literal text is quoted, placeholders become named groups.
func (p *Pattern) translate(expr *strings.Builder, fragment string) error {
	last := 0
	for _, loc := range placeholderRe.FindAllStringSubmatchIndex(fragment, -1) {
		literal := fragment[last:loc[0]]
		if strings.Contains(literal, ":") {
			return fmt.Errorf("%w: placeholder without a name in %q", ErrInvalidTemplate, p.template)
		}
		expr.WriteString(regexp.QuoteMeta(literal))
		name := fragment[loc[2]:loc[3]]
		for _, seen := range p.names {
			if seen == name {
				return fmt.Errorf("%w: %q in %q", ErrDuplicateParam, name, p.template)
			}
		}
		p.names = append(p.names, name)
		expr.WriteString(`(?P<` + name + `>\w+)`)
		last = loc[1]
	}
	rest := fragment[last:]
	if strings.Contains(rest, ":") {
		return fmt.Errorf("%w: placeholder without a name in %q", ErrInvalidTemplate, p.template)
	}
	expr.WriteString(regexp.QuoteMeta(rest))
	return nil
}

// Match reports whether path satisfies the pattern and returns the captured parameters.
// The returned map is never nil on a match.
func (p *Pattern) Match(path string) (Params, bool) {
	m := p.re.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}
	params := make(Params, len(p.names))
	for i, name := range p.re.SubexpNames() {
		if name != "" {
			params[name] = m[i]
		}
	}
	return params, true
}

// Names returns the placeholder names in template order.
func (p *Pattern) Names() []string {
	return append([]string(nil), p.names...)
}

// IsWildcard reports whether the pattern was compiled unanchored.
func (p *Pattern) IsWildcard() bool {
	return p.wildcard
}

func (p *Pattern) String() string {
	return p.template
}
