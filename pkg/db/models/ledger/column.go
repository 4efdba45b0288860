package ledger

import (
	"fmt"
	"strings"
)

// ColumnDef defines a single ClickHouse column.
type ColumnDef struct {
	Name  string
	Type  string
	Codec string
}

// SQL returns the full column definition for CREATE TABLE statements.
// Example: "token_address String CODEC(ZSTD(1))"
func (c ColumnDef) SQL() string {
	if c.Codec != "" {
		return fmt.Sprintf("%s %s CODEC(%s)", c.Name, c.Type, c.Codec)
	}
	return fmt.Sprintf("%s %s", c.Name, c.Type)
}

// ColumnsToSchemaSQL joins column definitions for a CREATE TABLE body.
func ColumnsToSchemaSQL(columns []ColumnDef) string {
	parts := make([]string, 0, len(columns))
	for _, col := range columns {
		parts = append(parts, col.SQL())
	}
	return strings.Join(parts, ",\n\t\t\t")
}
