package expr

import (
	"errors"
	"testing"
)

func TestEvaluateNumeric(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		bindings map[string]float64
		want     int
	}{
		{
			name:     "max with multiply",
			expr:     "max(padW, padH*1.3333)",
			bindings: map[string]float64{"padW": 100, "padH": 90},
			want:     120,
		},
		{
			name:     "rounds to nearest",
			expr:     "w * 1.0638",
			bindings: map[string]float64{"w": 1000},
			want:     1064,
		},
		{
			name:     "precedence",
			expr:     "w + h * 2",
			bindings: map[string]float64{"w": 10, "h": 5},
			want:     20,
		},
		{
			name:     "parens",
			expr:     "(w + h) * 2",
			bindings: map[string]float64{"w": 10, "h": 5},
			want:     30,
		},
		{
			name:     "nested functions",
			expr:     "min(ceil(w/3), floor(h/2))",
			bindings: map[string]float64{"w": 10, "h": 9},
			want:     4,
		},
		{
			name:     "abs and subtraction",
			expr:     "abs(trimW - trimH)",
			bindings: map[string]float64{"trimW": 40, "trimH": 100},
			want:     60,
		},
		{
			name:     "unary minus",
			expr:     "-w + 100",
			bindings: map[string]float64{"w": 30},
			want:     70,
		},
	}

	for _, tt := range tests {
		got, err := Evaluate(tt.expr, tt.bindings)
		if err != nil {
			t.Fatalf("%s: Evaluate() err=%v", tt.name, err)
		}
		if got.Deferred {
			t.Fatalf("%s: expected numeric result, got deferred %q", tt.name, got.Formula)
		}
		if got.Value != tt.want {
			t.Fatalf("%s: Evaluate()=%d, want %d", tt.name, got.Value, tt.want)
		}
	}
}

func TestEvaluateDeferred(t *testing.T) {
	got, err := Evaluate("max(padW, padH*1.3333)", map[string]float64{"padW": 100})
	if err != nil {
		t.Fatalf("Evaluate() err=%v", err)
	}
	if !got.Deferred {
		t.Fatalf("expected deferred result, got value %d", got.Value)
	}
	if got.Formula != "max(padW,padH*1.3333)" {
		t.Fatalf("Formula=%q, want whitespace stripped", got.Formula)
	}
}

func TestEvaluateDeferredNoBindings(t *testing.T) {
	got, err := Evaluate("w / 2", nil)
	if err != nil {
		t.Fatalf("Evaluate() err=%v", err)
	}
	if !got.Deferred || got.Formula != "w/2" {
		t.Fatalf("got %+v, want deferred w/2", got)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{name: "unknown identifier", expr: "width * 2"},
		{name: "unknown function", expr: "clamp(w, 1, 2)"},
		{name: "unbalanced open", expr: "max(w, h"},
		{name: "unbalanced close", expr: "w + h)"},
		{name: "bad character", expr: "w % 2"},
		{name: "empty", expr: "   "},
		{name: "double dot number", expr: "w * 1.2.3"},
	}

	for _, tt := range tests {
		if _, err := Parse(tt.expr); err == nil {
			t.Fatalf("%s: Parse(%q) expected error", tt.name, tt.expr)
		}
	}
}

func TestEvaluateNonNumericResult(t *testing.T) {
	_, err := Evaluate("w / (h - h)", map[string]float64{"w": 10, "h": 5})
	if err == nil {
		t.Fatalf("expected error for division by zero")
	}
	var exprErr *ExpressionError
	if !errors.As(err, &exprErr) {
		t.Fatalf("expected ExpressionError, got %T", err)
	}
}

func TestEvaluateWrongArity(t *testing.T) {
	_, err := Evaluate("floor(w, h)", map[string]float64{"w": 10, "h": 5})
	if err == nil {
		t.Fatalf("expected arity error")
	}
}

func TestNumericBindings(t *testing.T) {
	vars := map[string]any{"w": 100.0, "h": 80, "name": "thumb", "deep": int64(4)}
	got := NumericBindings(vars)
	if len(got) != 3 {
		t.Fatalf("NumericBindings()=%v, want 3 numeric entries", got)
	}
	if got["w"] != 100 || got["h"] != 80 || got["deep"] != 4 {
		t.Fatalf("NumericBindings()=%v", got)
	}
}
