package command

import (
	"reflect"
	"testing"
)

func TestParse_Basic(t *testing.T) {
	m := Parse(".foo bar baz", ".")
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.Command != "foo" {
		t.Fatalf("command: %q", m.Command)
	}
	if !reflect.DeepEqual(m.Args, []string{"bar", "baz"}) {
		t.Fatalf("args: %v", m.Args)
	}
	if m.Remainder != "bar baz" {
		t.Fatalf("remainder: %q", m.Remainder)
	}
	if m.Prefix != '.' {
		t.Fatalf("prefix: %q", m.Prefix)
	}
}

func TestParse_Idempotent(t *testing.T) {
	first := Parse(".foo bar baz", ".")
	for i := 0; i < 5; i++ {
		if got := Parse(".foo bar baz", "."); !reflect.DeepEqual(got, first) {
			t.Fatalf("parse %d diverged: %+v vs %+v", i, got, first)
		}
	}
}

func TestParse_Table(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		prefixes string
		want     string // expected command, "" = no match
	}{
		{"no prefix", "hello world", ".!#", ""},
		{"wrong prefix", "/help", ".", ""},
		{"alt prefix", "!ping", ".!#", "ping"},
		{"uppercase command", ".MENU", ".", "menu"},
		{"bare prefix", ".", ".", ""},
		{"prefix then spaces", ".   ", ".", ""},
		{"leading whitespace", "  .help", ".", "help"},
		{"empty text", "", ".", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Parse(tt.text, tt.prefixes)
			if tt.want == "" {
				if m != nil {
					t.Fatalf("expected no match, got %+v", m)
				}
				return
			}
			if m == nil || m.Command != tt.want {
				t.Fatalf("got %+v, want command %q", m, tt.want)
			}
		})
	}
}

func TestParse_NoArgs(t *testing.T) {
	m := Parse("#menu", "#")
	if m == nil || m.Command != "menu" {
		t.Fatalf("got %+v", m)
	}
	if len(m.Args) != 0 || m.Remainder != "" {
		t.Fatalf("expected no args, got %v / %q", m.Args, m.Remainder)
	}
}
