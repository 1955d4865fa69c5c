package query

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/packrat/pinserver/pkg/errcode"
)

// Operator compares a field against a value.
type Operator string

const (
	OpEqual    Operator = "="
	OpNotEqual Operator = "!="
	OpContains Operator = "~"
)

// Condition is one clause of a filter expression.
type Condition struct {
	Field Attribute
	Op    Operator
	Value string
}

// Filter expression grammar:
//
//	package = "maya" and version ~ 2018
var (
	filterLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Whitespace", Pattern: `\s+`},
		{Name: "String", Pattern: `"(\\"|[^"])*"`},
		{Name: "Operator", Pattern: `!=|=|~`},
		{Name: "Word", Pattern: `[a-zA-Z0-9_][a-zA-Z0-9_.\-]*`},
	})

	filterParser = participle.MustBuild[filterExpr](
		participle.Lexer(filterLexer),
		participle.Elide("Whitespace"),
		participle.Unquote("String"),
		participle.CaseInsensitive("Word"),
	)
)

type filterExpr struct {
	Terms []*filterTerm `parser:"@@ ( 'and' @@ )*"`
}

type filterTerm struct {
	Field string `parser:"@Word"`
	Op    string `parser:"@Operator"`
	Value string `parser:"@( String | Word )"`
}

// ParseFilter parses expr into conditions over the allowed fields. An empty
// expression yields no conditions.
func ParseFilter(expr string, allowed []Attribute) ([]Condition, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	parsed, err := filterParser.ParseString("filter", expr)
	if err != nil {
		return nil, errcode.New(errcode.InvalidArgument, "invalid filter %q: %v", expr, err)
	}

	conds := make([]Condition, 0, len(parsed.Terms))
	for _, t := range parsed.Terms {
		field := ParseAttribute(t.Field)
		if field == AttrUnknown || !contains(allowed, field) {
			return nil, errcode.New(errcode.InvalidArgument, "filter field %q is not supported", t.Field)
		}
		conds = append(conds, Condition{Field: field, Op: Operator(t.Op), Value: t.Value})
	}
	return conds, nil
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %q", c.Field, c.Op, c.Value)
}
