package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/LukhasAI/safexpr"
)

func runCommand(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	if stdin != "" {
		root.SetIn(strings.NewReader(stdin))
	}
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestEvalCommand(t *testing.T) {
	out, _, err := runCommand(t, "", "eval", "2 + 2")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "4" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestEvalJSONOutput(t *testing.T) {
	out, _, err := runCommand(t, "", "eval", "--json", `{"b": (1, 2), "a": {3}}`)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != `{"a":[3],"b":[1,2]}` {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestEvalVarsFile(t *testing.T) {
	dir := t.TempDir()

	yml := filepath.Join(dir, "vars.yaml")
	if err := os.WriteFile(yml, []byte("price: 120\nuser:\n  name: ada\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	out, _, err := runCommand(t, "", "eval", "--vars", yml, "price * 2")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "240" {
		t.Fatalf("unexpected output %q", out)
	}

	out, _, err = runCommand(t, "", "eval", "--vars", yml, "--allow-attrs", "upper", `user["name"].upper()`)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "ADA" {
		t.Fatalf("unexpected output %q", out)
	}

	jsn := filepath.Join(dir, "vars.json")
	if err := os.WriteFile(jsn, []byte(`{"price": 10}`), 0o600); err != nil {
		t.Fatal(err)
	}
	out, _, err = runCommand(t, "", "eval", "--vars", jsn, "price + 5")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "15" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestEvalErrorOutput(t *testing.T) {
	_, errOut, err := runCommand(t, "", "eval", "1 / 0")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(errOut, "division by zero") || !strings.Contains(errOut, "^") {
		t.Fatalf("unexpected stderr %q", errOut)
	}
}

func TestEvalSecurityError(t *testing.T) {
	_, errOut, err := runCommand(t, "", "eval", "x.__class__")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(errOut, "security error") {
		t.Fatalf("unexpected stderr %q", errOut)
	}
}

func TestParseCommand(t *testing.T) {
	out, _, err := runCommand(t, "", "parse", "1 + 2 * 3")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"add", "multiply", "  1", "    3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}

	out, _, err = runCommand(t, "", "parse", "--dot", "1 + 2")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "graph G {") || !strings.Contains(out, `[label="add"]`) {
		t.Fatalf("unexpected dot output %q", out)
	}
}

func TestReplCommand(t *testing.T) {
	out, errOut, err := runCommand(t, "1 + 1\nbad +\nexit\n", "repl")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "2") || !strings.Contains(out, "> ") {
		t.Fatalf("unexpected output %q", out)
	}
	if !strings.Contains(errOut, "incomplete expression") {
		t.Fatalf("unexpected stderr %q", errOut)
	}
}

func TestJsonable(t *testing.T) {
	got := jsonable(map[any]any{int64(1): safexpr.Tuple{"a", int64(2)}})
	want := map[string]any{"1": []any{"a", int64(2)}}
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected a map, got %T", got)
	}
	inner, ok := m["1"].([]any)
	if !ok || len(inner) != 2 || inner[0] != want["1"].([]any)[0] {
		t.Fatalf("unexpected conversion %#v", got)
	}
}
