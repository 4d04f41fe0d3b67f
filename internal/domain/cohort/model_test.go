package cohort

import (
	"encoding/json"
	"testing"
)

func TestNode_Evaluate(t *testing.T) {
	n := Or(And(Literal("diabetes"), Literal("obese")), Literal("ckd"))
	tests := []struct {
		name    string
		present map[string]bool
		want    bool
	}{
		{"both and-terms", map[string]bool{"diabetes": true, "obese": true}, true},
		{"one and-term", map[string]bool{"diabetes": true}, false},
		{"or-term", map[string]bool{"ckd": true}, true},
		{"none", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.Evaluate(tt.present); got != tt.want {
				t.Errorf("Evaluate(%v) = %v, want %v", tt.present, got, tt.want)
			}
		})
	}
}

func TestNode_Literals(t *testing.T) {
	n := Or(And(Literal("a"), Literal("b")), And(Literal("a"), Literal("c")))
	got := n.Literals()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("literal %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestNode_Validate(t *testing.T) {
	if err := And(Literal("a"), Literal("b")).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := []*Node{
		nil,
		{Type: NodeLiteral},
		{Type: "unary"},
		{Type: NodeBinaryOperator, Op: "XOR", Left: Literal("a"), Right: Literal("b")},
		{Type: NodeBinaryOperator, Op: OpAnd, Left: Literal("a")},
	}
	for i, n := range bad {
		if err := n.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestNode_Map(t *testing.T) {
	n := And(Literal("a"), Literal("b"))
	m := n.Map(func(s string) string { return "USER:" + s })
	if m.Left.Name != "USER:a" || m.Right.Name != "USER:b" {
		t.Errorf("unexpected mapped tree %+v", m)
	}
	if n.Left.Name != "a" {
		t.Error("Map modified the original tree")
	}
}

func TestNode_JSON(t *testing.T) {
	raw := `{"type":"binary_operator","op":"AND","left":{"type":"literal","name":"a"},"right":{"type":"literal","name":"b"}}`
	var n Node
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := n.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !n.Evaluate(map[string]bool{"a": true, "b": true}) {
		t.Error("expected decoded tree to match")
	}
}
