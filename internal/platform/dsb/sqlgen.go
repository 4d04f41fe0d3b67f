package dsb

import (
	"fmt"
	"strings"
)

// fromClause assigns an alias to every table of a join chain.
type fromClause struct {
	aliases map[string]string
	sql     strings.Builder
	n       int
}

func newFromClause(base *ColumnSpec) *fromClause {
	f := &fromClause{aliases: make(map[string]string)}
	f.n = 1
	first := base
	f.aliases[first.Table] = "a1"
	fmt.Fprintf(&f.sql, "FROM %s a1", first.qualifiedTable())
	f.extend(first)
	return f
}

// extend appends the joins hanging off spec, whose own table is already
// aliased.
func (f *fromClause) extend(spec *ColumnSpec) {
	for cur := spec; cur.Join != nil; cur = cur.Join.Next {
		next := cur.Join.Next
		if _, ok := f.aliases[next.Table]; ok {
			continue
		}
		f.n++
		alias := fmt.Sprintf("a%d", f.n)
		f.aliases[next.Table] = alias
		fmt.Fprintf(&f.sql, " JOIN %s %s ON %s.%s = %s.%s",
			next.qualifiedTable(), alias, f.aliases[cur.Table], cur.Join.FromKey, alias, cur.Join.ToKey)
	}
}

// column renders the final column of spec's chain, joining tables the
// clause does not have yet.
func (f *fromClause) column(spec *ColumnSpec) (string, error) {
	if _, ok := f.aliases[spec.Table]; !ok {
		return "", fmt.Errorf("table %s is not reachable from the key table", spec.qualifiedTable())
	}
	f.extend(spec)
	last := spec.Last()
	if last.Column == "" {
		return "", fmt.Errorf("column spec %s names no column", spec)
	}
	return f.aliases[last.Table] + "." + last.Column, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// entityQuery is the SQL for one entity spec plus the layout of its result
// columns: key, unique ids, then the optional parts in field order.
type entityQuery struct {
	SQL        string
	Args       []any
	NumUnique  int
	HasStart   bool
	HasFinish  bool
	HasCode    bool
	HasValue   bool
	Properties []*PropertySpec
	OneRefs    []*ReferenceSpec
}

func (q *entityQuery) width() int {
	n := 1 + q.NumUnique + len(q.Properties) + len(q.OneRefs)
	for _, b := range []bool{q.HasStart, q.HasFinish, q.HasCode, q.HasValue} {
		if b {
			n++
		}
	}
	return n
}

// buildEntityQuery selects the rows of e. codes restricts the code column
// to the given source values; keyIDs restricts the keys. Nil means no
// restriction.
func buildEntityQuery(e *EntitySpec, codes []string, keyIDs []string) (*entityQuery, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	from := newFromClause(e.BaseSpec)
	q := &entityQuery{NumUnique: len(e.UniqueIDSpecs)}

	cols := []string{"a1." + e.BaseSpec.Column}
	add := func(spec *ColumnSpec) error {
		c, err := from.column(spec)
		if err != nil {
			return fmt.Errorf("entity spec %s: %w", e.Name, err)
		}
		cols = append(cols, c)
		return nil
	}
	for _, u := range e.UniqueIDSpecs {
		if err := add(u); err != nil {
			return nil, err
		}
	}
	if e.StartTimeSpec != nil {
		q.HasStart = true
		if err := add(e.StartTimeSpec); err != nil {
			return nil, err
		}
	}
	if e.FinishTimeSpec != nil {
		q.HasFinish = true
		if err := add(e.FinishTimeSpec); err != nil {
			return nil, err
		}
	}
	if e.CodeSpec != nil {
		q.HasCode = true
		if err := add(e.CodeSpec); err != nil {
			return nil, err
		}
	}
	if e.ValueSpec != nil {
		q.HasValue = true
		if err := add(e.ValueSpec); err != nil {
			return nil, err
		}
	}
	for _, p := range e.Properties {
		if err := add(p.Column); err != nil {
			return nil, err
		}
		q.Properties = append(q.Properties, p)
	}
	for _, r := range e.References {
		if r.Type != ReferenceOne || len(r.Columns) != 1 || r.Columns[0].Join != nil {
			continue
		}
		if err := add(r.Columns[0]); err != nil {
			return nil, err
		}
		q.OneRefs = append(q.OneRefs, r)
	}

	var where []string
	if codes != nil {
		codeCol := cols[1+q.NumUnique+boolInt(q.HasStart)+boolInt(q.HasFinish)]
		where = append(where, fmt.Sprintf("%s IN (%s)", codeCol, placeholders(len(codes))))
		for _, c := range codes {
			q.Args = append(q.Args, c)
		}
	}
	if keyIDs != nil {
		where = append(where, fmt.Sprintf("a1.%s IN (%s)", e.BaseSpec.Column, placeholders(len(keyIDs))))
		for _, k := range keyIDs {
			q.Args = append(q.Args, k)
		}
	}

	var b strings.Builder
	b.WriteString("SELECT DISTINCT ")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(" ")
	b.WriteString(from.sql.String())
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY %s", strings.Join(cols[:1+q.NumUnique], ", "))
	q.SQL = b.String()
	return q, nil
}

// referenceQuery selects (unique ids..., referenced id) pairs for a
// reference whose column is reached through joins.
type referenceQuery struct {
	SQL       string
	Args      []any
	NumUnique int
	Reference *ReferenceSpec
}

func buildReferenceQuery(e *EntitySpec, r *ReferenceSpec, keyIDs []string) (*referenceQuery, error) {
	if len(r.Columns) != 1 {
		return nil, fmt.Errorf("reference %s of %s: expected one column", r.Name, e.Name)
	}
	from := newFromClause(e.BaseSpec)
	var cols []string
	for _, u := range append(append([]*ColumnSpec{}, e.UniqueIDSpecs...), r.Columns[0]) {
		c, err := from.column(u)
		if err != nil {
			return nil, fmt.Errorf("reference %s of %s: %w", r.Name, e.Name, err)
		}
		cols = append(cols, c)
	}
	q := &referenceQuery{NumUnique: len(e.UniqueIDSpecs), Reference: r}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT DISTINCT %s %s", strings.Join(cols, ", "), from.sql.String())
	if keyIDs != nil {
		fmt.Fprintf(&b, " WHERE a1.%s IN (%s)", e.BaseSpec.Column, placeholders(len(keyIDs)))
		for _, k := range keyIDs {
			q.Args = append(q.Args, k)
		}
	}
	fmt.Fprintf(&b, " ORDER BY %s", strings.Join(cols, ", "))
	q.SQL = b.String()
	return q, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
