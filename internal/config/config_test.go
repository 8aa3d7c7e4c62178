package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CLOVE_LLM_COMMAND", "/usr/bin/llm-worker")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Socket.Path == "" {
		t.Fatalf("expected a default socket path")
	}
	if cfg.Defaults.MemoryLimitBytes <= 0 {
		t.Fatalf("expected a positive default memory limit")
	}
	if cfg.Audit.RingCapacity <= 0 || cfg.Audit.RecorderCapacity <= 0 {
		t.Fatalf("expected positive audit/recorder capacities, got %+v", cfg.Audit)
	}
	if !cfg.Admin.Enabled {
		t.Fatalf("expected admin API enabled by default")
	}
}

func TestLoadRequiresLLMCommand(t *testing.T) {
	t.Setenv("CLOVE_LLM_COMMAND", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail without CLOVE_LLM_COMMAND")
	}
}

func TestLoadRequiresSocketOrAddr(t *testing.T) {
	t.Setenv("CLOVE_LLM_COMMAND", "/usr/bin/llm-worker")
	t.Setenv("CLOVE_SOCKET_PATH", "")
	t.Setenv("CLOVE_SOCKET_ADDR", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to fail without a socket path or addr")
	}
}

func TestSplitEnvList(t *testing.T) {
	cases := map[string][]string{
		"":            nil,
		"a":           {"a"},
		"a,b, c ,":    {"a", "b", "c"},
		"  ,  ,  ":    nil,
	}
	for input, want := range cases {
		got := splitEnvList(input)
		if len(got) != len(want) {
			t.Fatalf("splitEnvList(%q) = %v, want %v", input, got, want)
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("splitEnvList(%q) = %v, want %v", input, got, want)
			}
		}
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("CLOVE_TEST_BOOL", "no")
	if getEnvBool("CLOVE_TEST_BOOL", true) {
		t.Fatalf("expected 'no' to parse false")
	}
	if !getEnvBool("CLOVE_TEST_BOOL_UNSET", true) {
		t.Fatalf("expected fallback when unset")
	}
}
