package engine

import (
	"reflect"
	"testing"
)

func TestSplitSegments(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "   ", nil},
		{"single sentence", "Hello there.", []string{"Hello there."}},
		{"no terminator", "hold on a second", []string{"hold on a second"}},
		{
			"multiple sentences",
			"Hello! Am I speaking with the homeowner? Great.",
			[]string{"Hello!", "Am I speaking with the homeowner?", "Great."},
		},
		{
			"punctuation runs stay together",
			"Really?! Wow... okay.",
			[]string{"Really?!", "Wow...", "okay."},
		},
		{
			"newlines split",
			"First line\nSecond line",
			[]string{"First line", "Second line"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitSegments(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("splitSegments(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
