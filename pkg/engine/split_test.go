package engine

import (
	"slices"
	"testing"
)

func TestSplitCommands(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"think a", []string{"think a"}},
		{"think a;think b", []string{"think a", "think b"}},
		{"@switch x=x,{think a;think b};think c", []string{"@switch x=x,{think a;think b}", "think c"}},
		{"think [setq(0,a;b)];think %q0", []string{"think [setq(0,a;b)]", "think %q0"}},
		{`think a\;b;think c`, []string{`think a\;b`, "think c"}},
		{"think a%;b", []string{"think a%;b"}},
		{"think }};think x", []string{"think }}", "think x"}},
		{"", []string{""}},
	}
	for _, tt := range tests {
		if got := splitCommands(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("splitCommands(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitEquals(t *testing.T) {
	tests := []struct {
		in string
		lhs, rhs string
		ok bool
	}{
		{"me = hello", "me", "hello", true},
		{"[eq(1,1)]=yes", "[eq(1,1)]", "yes", true},
		{"{a=b}=c=d", "{a=b}", "c=d", true},
		{`a\=b=c`, `a\=b`, "c", true},
		{"no equals", "no equals", "", false},
	}
	for _, tt := range tests {
		lhs, rhs, ok := splitEquals(tt.in)
		if lhs != tt.lhs || rhs != tt.rhs || ok != tt.ok {
			t.Errorf("splitEquals(%q) = %q, %q, %v", tt.in, lhs, rhs, ok)
		}
	}
}

func TestStripBraces(t *testing.T) {
	tests := map[string]string{
		"{think a;think b}": "think a;think b",
		" { x } ":           "x",
		"{a}{b}":            "{a}{b}",
		"{a":                "{a",
		"plain":             "plain",
		`{a\}}`:             `a\}`,
		"{{nested}}":        "{nested}",
	}
	for in, want := range tests {
		if got := stripBraces(in); got != want {
			t.Errorf("stripBraces(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseCommand(t *testing.T) {
	name, switches, args := parseCommand("@DoList/Delimit/NOW , a,b=think ##")
	if name != "@dolist" || !slices.Equal(switches, []string{"delimit", "now"}) || args != ", a,b=think ##" {
		t.Errorf("got %q %q %q", name, switches, args)
	}
	name, switches, args = parseCommand("think")
	if name != "think" || switches != nil || args != "" {
		t.Errorf("got %q %q %q", name, switches, args)
	}
}
