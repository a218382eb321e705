package config

import (
	"strings"
	"testing"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("SLUICE_TEST_SET", "real")
	t.Setenv("SLUICE_TEST_EMPTY", "")
	t.Setenv("SLUICE_TEST_A", "alice")
	t.Setenv("SLUICE_TEST_B", "bob")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set var", "value: ${SLUICE_TEST_SET}", "value: real"},
		{"unset var", "value: ${SLUICE_TEST_UNSET_12345}", "value: "},
		{"default used when unset", "value: ${SLUICE_TEST_UNSET_12345:-fallback}", "value: fallback"},
		{"default ignored when set", "value: ${SLUICE_TEST_SET:-fallback}", "value: real"},
		{"default used when empty", "value: ${SLUICE_TEST_EMPTY:-fallback}", "value: fallback"},
		{"default with colon", "url: ${SLUICE_TEST_UNSET_12345:-redis://localhost:6379}", "url: redis://localhost:6379"},
		{"multiple vars", "${SLUICE_TEST_A}:${SLUICE_TEST_B}", "alice:bob"},
		{"no vars", "no variables here", "no variables here"},
		{"escaped", "literal: $${SLUICE_TEST_SET}", "literal: ${SLUICE_TEST_SET}"},
		{"bare dollar untouched", "price: $5 and $SLUICE_TEST_SET", "price: $5 and $SLUICE_TEST_SET"},
		{"required missing expands empty", "key: ${SLUICE_TEST_UNSET_12345:?set it}", "key: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnv(tt.input); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpandEnv_NestedInYAML(t *testing.T) {
	t.Setenv("AGENT_TOKEN", "secret")
	t.Setenv("AGENT_HOST", "agent.internal")

	input := `upstream:
  url: http://${AGENT_HOST}/run_sse
  headers:
    Authorization: Bearer ${AGENT_TOKEN}`

	got := ExpandEnv(input)
	want := `upstream:
  url: http://agent.internal/run_sse
  headers:
    Authorization: Bearer secret`

	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestExpandEnvStrict(t *testing.T) {
	t.Setenv("SLUICE_TEST_SET", "real")

	got, err := ExpandEnvStrict("a: ${SLUICE_TEST_SET:?needed}")
	if err != nil || got != "a: real" {
		t.Fatalf("got %q, %v", got, err)
	}

	_, err = ExpandEnvStrict("a: ${SLUICE_MISSING_ONE:?token required}\nb: ${SLUICE_MISSING_TWO:?}")
	if err == nil {
		t.Fatal("expected error for missing required vars")
	}
	for _, want := range []string{"SLUICE_MISSING_ONE: token required", "SLUICE_MISSING_TWO: required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should contain %q", err, want)
		}
	}
}

func TestExpand_CustomLookup(t *testing.T) {
	lookup := func(name string) (string, bool) {
		if name == "ONLY" {
			return "here", true
		}
		return "", false
	}
	got, err := expand("${ONLY} ${OTHER:-x}", lookup)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if got != "here x" {
		t.Errorf("got %q", got)
	}
}
