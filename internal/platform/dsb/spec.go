package dsb

import (
	"fmt"
	"strings"

	"github.com/eureka/eureka/internal/platform/engine"
)

// Operator says how a column's values relate to mapping sources.
type Operator string

const OperatorEqualTo Operator = "EQUAL_TO"

type ValueType string

const (
	ValueNominal ValueType = "NOMINAL"
	ValueDate    ValueType = "DATE"
	ValueNumber  ValueType = "NUMBER"
	ValueAny     ValueType = "VALUE"
)

// ColumnSpec names a column, optionally reached through a chain of joins.
// The last spec of the chain holds the column; intermediate specs only name
// tables.
type ColumnSpec struct {
	Schema       string
	Table        string
	Column       string
	Join         *JoinSpec
	Operator     Operator
	Mappings     *Mappings
	DropUnmapped bool
}

// JoinSpec joins the owning table to Next.Table on FromKey = ToKey.
type JoinSpec struct {
	FromKey string
	ToKey   string
	Next    *ColumnSpec
}

func Column(schema, table, column string) *ColumnSpec {
	return &ColumnSpec{Schema: schema, Table: table, Column: column}
}

func Table(schema, table string) *ColumnSpec {
	return &ColumnSpec{Schema: schema, Table: table}
}

// Joined returns a copy of c joined to next.
func (c *ColumnSpec) Joined(fromKey, toKey string, next *ColumnSpec) *ColumnSpec {
	cp := *c
	cp.Join = &JoinSpec{FromKey: fromKey, ToKey: toKey, Next: next}
	return &cp
}

// Mapped returns a copy of c whose values are translated through m.
func (c *ColumnSpec) Mapped(m *Mappings, dropUnmapped bool) *ColumnSpec {
	cp := *c
	cp.Operator = OperatorEqualTo
	cp.Mappings = m
	cp.DropUnmapped = dropUnmapped
	return &cp
}

// Last follows the join chain to its end.
func (c *ColumnSpec) Last() *ColumnSpec {
	for c.Join != nil {
		c = c.Join.Next
	}
	return c
}

// Chain lists every spec in the join chain, c first.
func (c *ColumnSpec) Chain() []*ColumnSpec {
	var out []*ColumnSpec
	for cur := c; cur != nil; {
		out = append(out, cur)
		if cur.Join == nil {
			break
		}
		cur = cur.Join.Next
	}
	return out
}

func (c *ColumnSpec) qualifiedTable() string {
	return c.Schema + "." + c.Table
}

func (c *ColumnSpec) String() string {
	parts := make([]string, 0, 4)
	for _, s := range c.Chain() {
		p := s.qualifiedTable()
		if s.Column != "" {
			p += "." + s.Column
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " -> ")
}

type PropertySpec struct {
	Name      string
	Column    *ColumnSpec
	ValueType ValueType
}

type ReferenceType string

const (
	ReferenceOne  ReferenceType = "ONE"
	ReferenceMany ReferenceType = "MANY"
)

// ReferenceSpec links an entity to instances of another entity. Columns
// yield the referenced entity's unique id values.
type ReferenceSpec struct {
	Name       string
	EntityName string
	Columns    []*ColumnSpec
	Type       ReferenceType
}

// EntitySpec maps rows reachable from the key table to propositions.
type EntitySpec struct {
	Name           string
	PropositionIDs []string
	Unique         bool
	// BaseSpec is the join chain from the key table to the entity's table.
	BaseSpec       *ColumnSpec
	UniqueIDSpecs  []*ColumnSpec
	StartTimeSpec  *ColumnSpec
	FinishTimeSpec *ColumnSpec
	Properties     []*PropertySpec
	References     []*ReferenceSpec
	// CodeSpec selects the proposition id of each row through its mappings.
	CodeSpec    *ColumnSpec
	ValueSpec   *ColumnSpec
	ValueType   ValueType
	Granularity engine.TimeUnit
	Type        engine.DefinitionType
}

// EntityTable is the table the entity's rows come from.
func (e *EntitySpec) EntityTable() string {
	return e.BaseSpec.Last().Table
}

func (e *EntitySpec) hasPropositionID(id string) bool {
	for _, p := range e.PropositionIDs {
		if p == id {
			return true
		}
	}
	return false
}

func (e *EntitySpec) validate() error {
	if e.BaseSpec == nil {
		return fmt.Errorf("entity spec %s has no base spec", e.Name)
	}
	if len(e.UniqueIDSpecs) == 0 {
		return fmt.Errorf("entity spec %s has no unique id columns", e.Name)
	}
	if len(e.PropositionIDs) == 0 {
		return fmt.Errorf("entity spec %s has no proposition ids", e.Name)
	}
	return nil
}
