package subgraph

import (
	"fmt"
	"strings"
)

// MaxPageSize is the largest `first` the subgraph backend accepts.
const MaxPageSize = 1000

// Query describes a single collection read. It renders to a GraphQL document whose only
// variables are first, skip and where, so every page of the same query shares one document.
type Query struct {
	Collection     string // e.g. joinExits
	FilterType     string // e.g. JoinExit_filter
	Fields         string
	Where          map[string]any
	OrderBy        string
	OrderDirection string // asc | desc
	First          int
	Skip           int
}

// Render returns the GraphQL document and its variables.
func (q Query) Render() (string, map[string]any, error) {
	if q.Collection == "" || q.FilterType == "" || strings.TrimSpace(q.Fields) == "" {
		return "", nil, fmt.Errorf("incomplete query for %q", q.Collection)
	}
	first := q.First
	if first <= 0 || first > MaxPageSize {
		first = MaxPageSize
	}
	dir := q.OrderDirection
	if dir == "" {
		dir = "asc"
	}
	if dir != "asc" && dir != "desc" {
		return "", nil, fmt.Errorf("invalid order direction %q", dir)
	}

	args := "first: $first, skip: $skip, where: $where"
	if q.OrderBy != "" {
		args += fmt.Sprintf(", orderBy: %s, orderDirection: %s", q.OrderBy, dir)
	}

	doc := fmt.Sprintf("query Page($first: Int!, $skip: Int!, $where: %s) { items: %s(%s) { %s } }",
		q.FilterType, q.Collection, args, strings.Join(strings.Fields(q.Fields), " "))

	where := q.Where
	if where == nil {
		where = map[string]any{}
	}
	return doc, map[string]any{"first": first, "skip": q.Skip, "where": where}, nil
}
