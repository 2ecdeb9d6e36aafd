package copyin

import (
	"strings"

	"github.com/lib/pq"
)

// CopyInQuery builds a binary COPY FROM STDIN statement for a table,
// optionally restricted to the named columns. Identifiers are quoted.
func CopyInQuery(table string, columns ...string) string {
	return copyInQuery(pq.QuoteIdentifier(table), columns)
}

// CopyInQuerySchema is CopyInQuery for a schema-qualified table.
func CopyInQuerySchema(schema, table string, columns ...string) string {
	return copyInQuery(pq.QuoteIdentifier(schema)+"."+pq.QuoteIdentifier(table), columns)
}

func copyInQuery(target string, columns []string) string {
	var b strings.Builder
	b.WriteString("COPY ")
	b.WriteString(target)
	if len(columns) > 0 {
		b.WriteString(" (")
		for i, c := range columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(pq.QuoteIdentifier(c))
		}
		b.WriteString(")")
	}
	b.WriteString(" FROM STDIN BINARY")
	return b.String()
}
