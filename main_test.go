package main

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func envFromMap(values map[string]string) func(string) string {
	return func(key string) string {
		return values[key]
	}
}

func TestResolveEffectiveConfigPrecedence(t *testing.T) {
	yes := true
	fileCfg := &FileConfig{
		Addr:      "file-host:5000",
		User:      "file-user",
		Password:  "file-pass",
		Database:  "file-db",
		Timeout:   "1m",
		Table:     "file_table",
		NullEmpty: &yes,
	}

	env := map[string]string{
		"PGSINK_ADDR":     "env-host:6000",
		"PGSINK_USER":     "env-user",
		"PGSINK_PASSWORD": "env-pass",
		"PGSINK_DATABASE": "env-db",
		"PGSINK_TIMEOUT":  "2m",
		"PGSINK_TABLE":    "env_table",
	}

	resolved := resolveEffectiveConfig(fileCfg, configCLIInputs{
		Set: map[string]bool{
			"addr":       true,
			"user":       true,
			"password":   true,
			"database":   true,
			"timeout":    true,
			"table":      true,
			"null-empty": true,
		},
		Addr:      "cli-host:7000",
		User:      "cli-user",
		Password:  "cli-pass",
		Database:  "cli-db",
		Timeout:   "3m",
		Table:     "cli_table",
		NullEmpty: false,
	}, envFromMap(env), nil)

	if resolved.Addr != "cli-host:7000" {
		t.Fatalf("addr precedence mismatch: got %q", resolved.Addr)
	}
	if resolved.User != "cli-user" {
		t.Fatalf("user precedence mismatch: got %q", resolved.User)
	}
	if resolved.Password != "cli-pass" {
		t.Fatalf("password precedence mismatch: got %q", resolved.Password)
	}
	if resolved.Database != "cli-db" {
		t.Fatalf("database precedence mismatch: got %q", resolved.Database)
	}
	if resolved.Timeout != 3*time.Minute {
		t.Fatalf("timeout precedence mismatch: got %s", resolved.Timeout)
	}
	if resolved.Table != "cli_table" {
		t.Fatalf("table precedence mismatch: got %q", resolved.Table)
	}
	if resolved.NullEmpty {
		t.Fatalf("null-empty precedence mismatch: expected false")
	}
}

func TestResolveEffectiveConfigEnvOverridesFile(t *testing.T) {
	fileCfg := &FileConfig{
		Addr:  "file-host:5000",
		User:  "file-user",
		Table: "file_table",
	}

	env := map[string]string{
		"PGSINK_ADDR": "env-host:6000",
		"PGSINK_USER": "env-user",
	}

	resolved := resolveEffectiveConfig(fileCfg, configCLIInputs{}, envFromMap(env), nil)

	if resolved.Addr != "env-host:6000" {
		t.Fatalf("expected env addr, got %q", resolved.Addr)
	}
	if resolved.User != "env-user" {
		t.Fatalf("expected env user, got %q", resolved.User)
	}
	if resolved.Table != "file_table" {
		t.Fatalf("expected file table, got %q", resolved.Table)
	}
}

func TestResolveEffectiveConfigDefaults(t *testing.T) {
	resolved := resolveEffectiveConfig(nil, configCLIInputs{}, envFromMap(nil), nil)

	if resolved.Addr != "127.0.0.1:5432" {
		t.Fatalf("expected default addr, got %q", resolved.Addr)
	}
	if resolved.User != "postgres" {
		t.Fatalf("expected default user, got %q", resolved.User)
	}
	if resolved.Timeout != 30*time.Second {
		t.Fatalf("expected default timeout, got %s", resolved.Timeout)
	}
	if resolved.NullEmpty || resolved.Truncate {
		t.Fatalf("expected boolean flags to default to false")
	}
}

func TestResolveEffectiveConfigInvalidTimeoutEnv(t *testing.T) {
	fileCfg := &FileConfig{
		Timeout: "45s",
	}

	env := map[string]string{
		"PGSINK_TIMEOUT": "bad-duration",
	}

	var warns []string
	resolved := resolveEffectiveConfig(fileCfg, configCLIInputs{}, envFromMap(env), func(msg string) {
		warns = append(warns, msg)
	})

	if resolved.Timeout != 45*time.Second {
		t.Fatalf("invalid env timeout should not override valid file value, got %s", resolved.Timeout)
	}

	found := false
	for _, w := range warns {
		if strings.Contains(w, "Invalid PGSINK_TIMEOUT duration") {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected warning about invalid PGSINK_TIMEOUT, warnings: %v", warns)
	}
}

func TestResolveEffectiveConfigColumnsAndTypes(t *testing.T) {
	fileCfg := &FileConfig{
		Columns: []string{"id", "name"},
		Types:   []string{"int8", "text"},
	}

	resolved := resolveEffectiveConfig(fileCfg, configCLIInputs{}, envFromMap(nil), nil)
	if !reflect.DeepEqual(resolved.Columns, []string{"id", "name"}) {
		t.Fatalf("expected columns from file, got %v", resolved.Columns)
	}
	if !reflect.DeepEqual(resolved.Types, []string{"int8", "text"}) {
		t.Fatalf("expected types from file, got %v", resolved.Types)
	}

	resolved = resolveEffectiveConfig(fileCfg, configCLIInputs{
		Set:     map[string]bool{"columns": true, "types": true},
		Columns: "id, name, created_at",
		Types:   "int8, text, timestamptz",
	}, envFromMap(nil), nil)
	if !reflect.DeepEqual(resolved.Columns, []string{"id", "name", "created_at"}) {
		t.Fatalf("expected columns from CLI, got %v", resolved.Columns)
	}
	if !reflect.DeepEqual(resolved.Types, []string{"int8", "text", "timestamptz"}) {
		t.Fatalf("expected types from CLI, got %v", resolved.Types)
	}
}

func TestSplitList(t *testing.T) {
	if got := splitList(""); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
	if got := splitList("a"); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("expected single element, got %v", got)
	}
	if got := splitList(" a , b ,c"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("expected trimmed elements, got %v", got)
	}
}

func TestConvertField(t *testing.T) {
	tests := []struct {
		name  string
		field string
		typ   string
		want  any
	}{
		{"int8", "42", "int8", int64(42)},
		{"negative int4", "-7", "int4", int64(-7)},
		{"float8", "3.5", "float8", 3.5},
		{"bool true", "true", "bool", true},
		{"bool numeric", "1", "bool", true},
		{"bytea", "abc", "bytea", []byte("abc")},
		{"date", "2024-06-15", "date", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)},
		{"timestamptz", "2024-06-15T10:30:00Z", "timestamptz", time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)},
		{"untyped is text", "hello", "", "hello"},
		{"unknown type is text", "hello", "mystery", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := convertField(tt.field, tt.typ)
			if err != nil {
				t.Fatalf("convertField(%q, %q) error: %v", tt.field, tt.typ, err)
			}
			if gt, ok := got.(time.Time); ok {
				if !gt.Equal(tt.want.(time.Time)) {
					t.Fatalf("convertField(%q, %q) = %v, want %v", tt.field, tt.typ, got, tt.want)
				}
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("convertField(%q, %q) = %v, want %v", tt.field, tt.typ, got, tt.want)
			}
		})
	}
}

func TestConvertFieldErrors(t *testing.T) {
	cases := []struct {
		field string
		typ   string
	}{
		{"not-a-number", "int8"},
		{"not-a-float", "float8"},
		{"maybe", "bool"},
		{"15/06/2024", "date"},
		{"yesterday", "timestamptz"},
	}
	for _, c := range cases {
		if _, err := convertField(c.field, c.typ); err == nil {
			t.Fatalf("convertField(%q, %q) expected error", c.field, c.typ)
		}
	}
}
