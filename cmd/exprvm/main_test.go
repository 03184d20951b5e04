package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/funvibe/exprvm/internal/backend"
	"github.com/funvibe/exprvm/internal/config"
	"github.com/funvibe/exprvm/internal/scenarios"
)

func TestParseCheckArgs(t *testing.T) {
	tests := []struct {
		args    []string
		backend string
		names   []string
		err     bool
	}{
		{nil, BackendType, nil, false},
		{[]string{"-backend", "vm"}, "vm", nil, false},
		{[]string{"--backend=treewalk", "conditional"}, "treewalk", []string{"conditional"}, false},
		{[]string{"conditional", "widening"}, BackendType, []string{"conditional", "widening"}, false},
		{[]string{"-backend"}, "", nil, true},
		{[]string{"-v"}, "", nil, true},
	}
	for _, tt := range tests {
		name, names, err := parseCheckArgs(tt.args)
		if tt.err {
			if err == nil {
				t.Errorf("parseCheckArgs(%q): expected an error", tt.args)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseCheckArgs(%q): %s", tt.args, err)
			continue
		}
		if name != tt.backend || strings.Join(names, ",") != strings.Join(tt.names, ",") {
			t.Errorf("parseCheckArgs(%q) = %q, %q", tt.args, name, names)
		}
	}
}

func TestRunCheck(t *testing.T) {
	for _, name := range []string{"vm", "treewalk", "fast"} {
		t.Run(name, func(t *testing.T) {
			b, err := backend.ByName(name, config.Debug())
			if err != nil {
				t.Fatalf("ByName: %s", err)
			}
			var out bytes.Buffer
			rep := &reporter{out: &out}
			runCheck(rep, b, scenarios.All())
			if !rep.ok() {
				t.Fatalf("check failed:\n%s", out.String())
			}
			declined := 0
			if name == "vm" {
				for _, s := range scenarios.All() {
					if s.Unsupported {
						declined++
					}
				}
			}
			if rep.declined != declined {
				t.Errorf("declined = %d, want %d", rep.declined, declined)
			}
			if strings.Contains(out.String(), "\033[") {
				t.Error("colors written to a non-terminal")
			}
		})
	}
}

func TestSelectScenarios(t *testing.T) {
	if _, err := selectScenarios([]string{"no such scenario"}); err == nil {
		t.Error("expected an error for an unknown scenario")
	}
	list, err := selectScenarios([]string{"conditional"})
	if err != nil || len(list) != 1 || list[0].Name != "conditional" {
		t.Errorf("selectScenarios = %v, %v", list, err)
	}
}
