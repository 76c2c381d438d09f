package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crystal-mush/mushcode/pkg/eval"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.Limits != eval.DefaultLimits() {
		t.Errorf("limits = %+v", c.Limits)
	}
	if c.ErrorPrefix != "#-1" || c.SpaceCompress {
		t.Errorf("options = %+v", c.Options("test"))
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestYAMLAndLegacyAgree(t *testing.T) {
	dir := t.TempDir()
	yamlPath := writeFile(t, dir, "game.yaml", `
function_recursion_limit: 20
function_invocation_limit: 300
command_nest_limit: 7
space_compress: true
error_prefix: "#-2"
database: data/game.bolt
`)
	writeFile(t, dir, "limits.conf", "function_invocation_limit 300\ncommand_nest_limit\t7\n")
	confPath := writeFile(t, dir, "game.conf", `# engine limits
function_recursion_limit 20
include limits.conf
space_compress yes
error_prefix #-2
database data/game.bolt
money_name_plural pennies
@attribute/access FOO wizard
`)
	want := eval.Limits{Recursion: 20, Invocation: 300, CommandNest: 7}
	for _, path := range []string{yamlPath, confPath} {
		c, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%s): %v", filepath.Base(path), err)
		}
		if c.Limits != want {
			t.Errorf("%s: limits = %+v, want %+v", filepath.Base(path), c.Limits, want)
		}
		if !c.SpaceCompress || c.ErrorPrefix != "#-2" {
			t.Errorf("%s: options = %+v", filepath.Base(path), c.Options(""))
		}
		if c.Database != filepath.Join(dir, "data/game.bolt") {
			t.Errorf("%s: database = %q", filepath.Base(path), c.Database)
		}
		if c.QueueMaxPerObject != 1000 {
			t.Errorf("%s: unset value lost its default: %d", filepath.Base(path), c.QueueMaxPerObject)
		}
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"bad.yaml":      "function_recursion_limit: [1, 2",
		"negative.yaml": "command_nest_limit: -1\n",
		"zero.conf":     "queue_workers 0\n",
	}
	for name, body := range tests {
		path := writeFile(t, dir, name, body)
		if _, err := Load(path); err == nil {
			t.Errorf("Load(%s) succeeded", name)
		}
	}
	if _, err := Load(filepath.Join(dir, "missing.conf")); err == nil {
		t.Errorf("missing file loaded")
	}
}

func TestIncludeLoop(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "loop.conf", "include loop.conf\nfunction_recursion_limit 9\n")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Limits.Recursion != 9 {
		t.Errorf("recursion = %d", c.Limits.Recursion)
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "game.yaml", "function_invocation_limit: 100\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 16)
	errc := make(chan error, 1)
	go func() {
		errc <- Watch(ctx, path, func(c *Config) {
			select {
			case got <- c:
			default:
			}
		})
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for done := false; !done; {
		select {
		case c := <-got:
			if c.Limits.Invocation == 200 {
				done = true
			}
		case <-tick.C:
			writeFile(t, dir, "other.yaml", "function_invocation_limit: 300\n")
			writeFile(t, dir, "game.yaml", "function_invocation_limit: 200\n")
		case <-deadline:
			t.Fatalf("no reload observed")
		}
	}
	cancel()
	if err := <-errc; err != context.Canceled {
		t.Errorf("Watch returned %v", err)
	}
}
