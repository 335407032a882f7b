package prompts

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
)

/*
This is a parser for a small filter language selecting prompt entries:

Query       := Expr
Expr        := OrExpr ( "OR" OrExpr )*
OrExpr      := AndExpr ( "AND" AndExpr )*
AndExpr     := Condition | "NOT" Condition
Condition   := Filter | "(" Expr ")"
Filter      := Field Op <string>
Field       := "shortname" | "prompt"
Op          := "CONTAINS" | "="
*/

var filterParser = participle.MustBuild[QueryExpr](
	participle.Unquote("String"),
)

// Filter decides whether a prompt entry participates in validation.
type Filter interface {
	Matches(e Entry) bool
}

func ParseFilter(query string) (Filter, error) {
	q, err := filterParser.ParseString("", query)
	if err != nil {
		return nil, fmt.Errorf("error parsing filter '%s': %w", query, err)
	}

	filter, err := q.ToFilter()
	if err != nil {
		return nil, fmt.Errorf("error converting filter '%s': %w", query, err)
	}

	return filter, nil
}

type QueryExpr struct {
	Expr *Expr `parser:"@@"`
}

func (q *QueryExpr) ToFilter() (Filter, error) {
	return q.Expr.ToFilter()
}

type Expr struct {
	Ors []*OrExpr `parser:"@@ ( 'OR' @@ )*"`
}

func (e *Expr) ToFilter() (Filter, error) {
	if len(e.Ors) == 0 {
		return nil, fmt.Errorf("empty OR expression")
	}

	if len(e.Ors) == 1 {
		return e.Ors[0].ToFilter()
	}

	var filters []Filter
	for _, cond := range e.Ors {
		f, err := cond.ToFilter()
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	return &orFilter{filters: filters}, nil
}

type OrExpr struct {
	Ands []*Condition `parser:"@@ ( 'AND' @@ )*"`
}

func (o *OrExpr) ToFilter() (Filter, error) {
	if len(o.Ands) == 0 {
		return nil, fmt.Errorf("empty AND expression")
	}

	if len(o.Ands) == 1 {
		return o.Ands[0].ToFilter()
	}

	var filters []Filter
	for _, cond := range o.Ands {
		f, err := cond.ToFilter()
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	return &andFilter{filters: filters}, nil
}

type Condition struct {
	Not     bool        `parser:"@'NOT'?"`
	Filter  *FilterExpr `parser:" @@"`
	SubExpr *Expr       `parser:"| '(' @@ ')' "`
}

func (c *Condition) ToFilter() (Filter, error) {
	var filter Filter
	var err error
	if c.Filter != nil {
		filter, err = c.Filter.ToFilter()
	} else if c.SubExpr != nil {
		filter, err = c.SubExpr.ToFilter()
	}

	if err != nil {
		return nil, err
	}

	if c.Not {
		filter = &notFilter{filter: filter}
	}

	return filter, nil
}

type FilterExpr struct {
	Field string `parser:"@Ident"`
	Op    string `parser:"@('CONTAINS' | '=')"`
	Value string `parser:"@String"`
}

func (f *FilterExpr) ToFilter() (Filter, error) {
	field := strings.ToLower(f.Field)
	if field != "shortname" && field != "prompt" {
		return nil, fmt.Errorf("unknown filter field %q, expected 'shortname' or 'prompt'", f.Field)
	}

	switch f.Op {
	case "CONTAINS":
		return &substringFilter{field: field, substr: f.Value}, nil
	case "=":
		return &equalsFilter{field: field, value: f.Value}, nil
	default:
		return nil, fmt.Errorf("invalid operator %s", f.Op)
	}
}

func fieldValue(e Entry, field string) string {
	if field == "shortname" {
		return e.Shortname
	}
	return e.Prompt
}

type substringFilter struct {
	field  string
	substr string
}

func (f *substringFilter) Matches(e Entry) bool {
	return strings.Contains(strings.ToLower(fieldValue(e, f.field)), strings.ToLower(f.substr))
}

type equalsFilter struct {
	field string
	value string
}

func (f *equalsFilter) Matches(e Entry) bool {
	return fieldValue(e, f.field) == f.value
}

type andFilter struct {
	filters []Filter
}

func (f *andFilter) Matches(e Entry) bool {
	for _, sub := range f.filters {
		if !sub.Matches(e) {
			return false
		}
	}
	return true
}

type orFilter struct {
	filters []Filter
}

func (f *orFilter) Matches(e Entry) bool {
	for _, sub := range f.filters {
		if sub.Matches(e) {
			return true
		}
	}
	return false
}

type notFilter struct {
	filter Filter
}

func (f *notFilter) Matches(e Entry) bool {
	return !f.filter.Matches(e)
}
