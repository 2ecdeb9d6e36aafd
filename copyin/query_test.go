package copyin

import "testing"

func TestCopyInQuery(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			"table only",
			CopyInQuery("events"),
			`COPY "events" FROM STDIN BINARY`,
		},
		{
			"with columns",
			CopyInQuery("events", "id", "name"),
			`COPY "events" ("id", "name") FROM STDIN BINARY`,
		},
		{
			"quoting",
			CopyInQuery(`weird"table`, "select"),
			`COPY "weird""table" ("select") FROM STDIN BINARY`,
		},
		{
			"schema qualified",
			CopyInQuerySchema("analytics", "events", "id"),
			`COPY "analytics"."events" ("id") FROM STDIN BINARY`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("query = %s, want %s", tt.got, tt.want)
			}
		})
	}
}
