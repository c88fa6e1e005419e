package greeter

import (
	"strings"
	"testing"
)

func TestFormat(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"Alice", "Hello, Alice!"},
		{"Bob", "Hello, Bob!"},
		{"", "Hello, !"},
		{"世界", "Hello, 世界!"},
	}
	for _, tc := range cases {
		if got := Format(tc.name); got != tc.want {
			t.Errorf("Format(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestFormatDeterministic(t *testing.T) {
	if Format("Alice") != Format("Alice") {
		t.Error("Format is not deterministic")
	}
}

func TestGreetWritesLinesInOrder(t *testing.T) {
	var out strings.Builder
	if err := Greet(&out, DefaultNames); err != nil {
		t.Fatalf("Greet: %v", err)
	}
	want := "Hello, Alice!\nHello, Bob!\nHello, Charlie!\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestGreetEmptyList(t *testing.T) {
	var out strings.Builder
	if err := Greet(&out, nil); err != nil {
		t.Fatalf("Greet: %v", err)
	}
	if out.String() != "" {
		t.Errorf("output = %q, want empty", out.String())
	}
}
