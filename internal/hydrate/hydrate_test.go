package hydrate

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

type counterState struct {
	Count   int      `json:"count"`
	Label   string   `json:"label,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Version int      `json:"version"`
}

func TestDecoder(t *testing.T) {
	tests := []struct {
		name      string
		options   []DecoderOption[counterState]
		input     any
		expect    counterState
		expectErr string
	}{
		{
			name:   "json tags",
			input:  map[string]any{"count": 100.0, "version": 2.0},
			expect: counterState{Count: 100, Version: 2},
		},
		{
			name:      "nil value",
			input:     nil,
			expectErr: `value is nil for slice "counter"`,
		},
		{
			name:      "unknown fields rejected",
			options:   []DecoderOption[counterState]{WithDisallowUnknownFields[counterState]()},
			input:     map[string]any{"count": 1.0, "counts": 2.0},
			expectErr: "unknown field",
		},
		{
			name:    "weakly typed",
			options: []DecoderOption[counterState]{WithWeaklyTypedInput[counterState]()},
			input:   map[string]any{"count": "7", "version": 1.0, "label": 3},
			expect:  counterState{Count: 7, Version: 1, Label: "3"},
		},
		{
			name: "pre hook renames field",
			options: []DecoderOption[counterState]{WithPreHook[counterState](func(_ Context, v any) (any, error) {
				m := v.(map[string]any)
				m["count"] = m["counts"]
				delete(m, "counts")
				return m, nil
			})},
			input:  map[string]any{"counts": 5.0},
			expect: counterState{Count: 5},
		},
		{
			name: "post hook tags slice",
			options: []DecoderOption[counterState]{WithPostHook[counterState](func(ctx Context, s *counterState) error {
				s.Tags = append(s.Tags, ctx.Slice)
				return nil
			})},
			input:  map[string]any{"count": 1.0},
			expect: counterState{Count: 1, Tags: []string{"counter"}},
		},
		{
			name: "post hook error",
			options: []DecoderOption[counterState]{WithPostHook[counterState](func(Context, *counterState) error {
				return errors.New("invalid")
			})},
			input:     map[string]any{"count": 1.0},
			expectErr: `post-hook for slice "counter" failed: invalid`,
		},
		{
			name: "custom decoder",
			options: []DecoderOption[counterState]{WithCustomDecoder[counterState](func(_ Context, v any) (counterState, error) {
				return counterState{Count: int(v.(float64))}, nil
			})},
			input:  42,
			expect: counterState{Count: 42},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := NewDecoder[counterState](tc.options...).Decode(Context{Slice: "counter"}, tc.input)
			if tc.expectErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.expectErr) {
					t.Fatalf("expected error containing %q, got %v", tc.expectErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected decode error: %v", err)
			}
			if !reflect.DeepEqual(tc.expect, result) {
				t.Fatalf("decoded mismatch:\nwant: %#v\n got: %#v", tc.expect, result)
			}
		})
	}
}

func TestDecoderDoesNotMutateInput(t *testing.T) {
	input := map[string]any{"counts": 5.0}
	decoder := NewDecoder[counterState](WithPreHook[counterState](func(_ Context, v any) (any, error) {
		v.(map[string]any)["count"] = 1.0
		return v, nil
	}))
	if _, err := decoder.Decode(Context{Slice: "counter"}, input); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := input["count"]; ok {
		t.Fatalf("input mutated: %v", input)
	}
}
