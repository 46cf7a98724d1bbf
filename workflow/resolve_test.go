package workflow

import (
	"reflect"
	"testing"
)

func TestResolveInput(t *testing.T) {
	outputs := map[string]any{
		StartKey: "initial",
		"A":      "out-a",
		"B":      map[string]any{"k": 1},
		"C":      "out-c",
	}
	tests := []struct {
		name  string
		step  Step
		preds []string
		want  any
	}{
		{"no predecessors gets start", Step{ID: "A"}, nil, "initial"},
		{"single predecessor unwrapped", Step{ID: "B"}, []string{"A"}, "out-a"},
		{"several predecessors keyed by id", Step{ID: "D"}, []string{"B", "C"},
			map[string]any{"B": map[string]any{"k": 1}, "C": "out-c"}},
		{"explicit map", Step{ID: "D", InputMap: map[string]string{"left": "B", "right": "C"}}, []string{"B", "C"},
			map[string]any{"left": map[string]any{"k": 1}, "right": "out-c"}},
		{"single explicit entry unwrapped", Step{ID: "D", InputMap: map[string]string{"text": "C"}}, []string{"B", "C"}, "out-c"},
		{"explicit start reference", Step{ID: "D", InputMap: map[string]string{"orig": StartKey}}, []string{"A"}, "initial"},
		{"invalid entries ignored", Step{ID: "B", InputMap: map[string]string{"": "C", "x": ""}}, []string{"A"}, "out-a"},
		{"explicit map wins over arity", Step{ID: "B", InputMap: map[string]string{"a": "A", "s": StartKey}}, nil,
			map[string]any{"a": "out-a", "s": "initial"}},
		{"missing source resolves to nil", Step{ID: "B", InputMap: map[string]string{"x": "Z"}}, nil, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveInput(tc.step, outputs, tc.preds)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %#v, want %#v", got, tc.want)
			}
		})
	}
}
