package rowstore

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Filter is one column predicate rendered as "column=op.value".
type Filter struct {
	Column string
	Op     string
	Value  string
}

func filter(column, op, value string) Filter {
	return Filter{Column: column, Op: op, Value: value}
}

// Eq matches rows where column equals value.
func Eq(column string, value any) Filter { return filter(column, "eq", render(value)) }

// Neq matches rows where column does not equal value.
func Neq(column string, value any) Filter { return filter(column, "neq", render(value)) }

// Gte matches rows where column >= value.
func Gte(column string, value any) Filter { return filter(column, "gte", render(value)) }

// Lte matches rows where column <= value.
func Lte(column string, value any) Filter { return filter(column, "lte", render(value)) }

// Lt matches rows where column < value.
func Lt(column string, value any) Filter { return filter(column, "lt", render(value)) }

// Ilike matches rows where column matches the pattern case-insensitively.
// Use * as the wildcard, e.g. Ilike("specialty", "*cardio*").
func Ilike(column, pattern string) Filter { return filter(column, "ilike", pattern) }

// In matches rows where column is one of the given values.
func In(column string, values ...any) Filter {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, render(v))
	}
	return filter(column, "in", "("+strings.Join(parts, ",")+")")
}

func render(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Query describes a row selection.
type Query struct {
	Table   string
	Filters []Filter
	Select  string // optional column projection
	Order   string // e.g. "rating.desc"
	Limit   int
	Offset  int
}

// Encode renders the query string (without leading "?").
func (q Query) Encode() string {
	vals := url.Values{}
	if q.Select != "" {
		vals.Set("select", q.Select)
	}
	for _, f := range q.Filters {
		vals.Add(f.Column, f.Op+"."+f.Value)
	}
	if q.Order != "" {
		vals.Set("order", q.Order)
	}
	if q.Limit > 0 {
		vals.Set("limit", fmt.Sprintf("%d", q.Limit))
	}
	if q.Offset > 0 {
		vals.Set("offset", fmt.Sprintf("%d", q.Offset))
	}
	return vals.Encode()
}
