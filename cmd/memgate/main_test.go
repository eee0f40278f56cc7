package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCmdListsSubcommands(t *testing.T) {
	root := buildRootCmd()

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--help"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	help := out.String()
	for _, want := range []string{"serve", "migrate", "diary", "config"} {
		if !strings.Contains(help, want) {
			t.Errorf("help output missing %q", want)
		}
	}
}

func TestConfigSchemaCommand(t *testing.T) {
	root := buildRootCmd()

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"config", "schema"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), "$schema") {
		t.Errorf("schema output = %q", out.String())
	}
}
