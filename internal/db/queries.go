package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"time"
	"unicode/utf8"
)

// TableInfo describes one user table with its columns.
type TableInfo struct {
	Schema  string   `json:"schema"`
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Columns []Column `json:"columns"`
}

// Column describes one column of a table.
type Column struct {
	Name      string  `json:"name"`
	DataType  string  `json:"data_type"`
	MaxLength *int64  `json:"max_length,omitempty"`
	Default   *string `json:"default,omitempty"`
	Nullable  bool    `json:"nullable"`
	Position  int     `json:"position"`
}

// Index describes one index entry of a table.
type Index struct {
	Name    string `json:"name"`
	Column  string `json:"column"`
	Unique  bool   `json:"unique"`
	Primary bool   `json:"primary"`
}

// TableDetail is the full schema of a single table.
type TableDetail struct {
	Columns []Column `json:"columns"`
	Indexes []Index  `json:"indexes"`
}

// QueryResult is the shaped outcome of an ad-hoc statement: a tabular result
// for row-returning statements, an affected-row count otherwise.
type QueryResult struct {
	Columns      []string   `json:"columns,omitempty"`
	Rows         [][]string `json:"rows,omitempty"`
	AffectedRows *int64     `json:"affected_rows,omitempty"`
}

const listTablesSQL = `
	SELECT table_schema, table_name, table_type
	FROM information_schema.tables
	WHERE table_schema NOT IN ('pg_catalog', 'information_schema', 'crdb_internal')
	  AND table_type = 'BASE TABLE'
	ORDER BY table_schema, table_name`

const tableColumnsSQL = `
	SELECT column_name, data_type, character_maximum_length, column_default, is_nullable, ordinal_position
	FROM information_schema.columns
	WHERE table_schema = $1 AND table_name = $2
	ORDER BY ordinal_position`

const describeColumnsSQL = `
	SELECT column_name, data_type, character_maximum_length, column_default, is_nullable, ordinal_position
	FROM information_schema.columns
	WHERE table_name = $1
	ORDER BY ordinal_position`

const tableIndexesSQL = `
	SELECT i.relname AS index_name,
	       a.attname AS column_name,
	       ix.indisunique AS is_unique,
	       ix.indisprimary AS is_primary
	FROM pg_class t, pg_class i, pg_index ix, pg_attribute a
	WHERE t.oid = ix.indrelid
	  AND i.oid = ix.indexrelid
	  AND a.attrelid = t.oid
	  AND a.attnum = ANY(ix.indkey)
	  AND t.relkind = 'r'
	  AND t.relname = $1
	ORDER BY i.relname`

// ListTables returns all user tables with their columns, in catalog order.
func (m *Manager) ListTables(ctx context.Context) ([]TableInfo, error) {
	var tables []TableInfo
	err := m.Execute(ctx, func(ctx context.Context, conn Conn) error {
		tables = nil

		rows, err := conn.Query(ctx, listTablesSQL)
		if err != nil {
			return err
		}
		for rows.Next() {
			var t TableInfo
			if err := rows.Scan(&t.Schema, &t.Name, &t.Type); err != nil {
				rows.Close()
				return err
			}
			tables = append(tables, t)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		// One open result set per connection: column lookups run after
		// the table listing is fully drained.
		for i := range tables {
			cols, err := scanColumns(ctx, conn, tableColumnsSQL, tables[i].Schema, tables[i].Name)
			if err != nil {
				return err
			}
			tables[i].Columns = cols
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tables, nil
}

// DescribeTable returns columns and index metadata for a single table.
// A table with no columns in the catalog does not exist.
func (m *Manager) DescribeTable(ctx context.Context, table string) (*TableDetail, error) {
	var detail *TableDetail
	err := m.Execute(ctx, func(ctx context.Context, conn Conn) error {
		detail = nil

		cols, err := scanColumns(ctx, conn, describeColumnsSQL, table)
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			return &NotFoundError{Table: table}
		}

		rows, err := conn.Query(ctx, tableIndexesSQL, table)
		if err != nil {
			return err
		}
		defer rows.Close()
		var indexes []Index
		for rows.Next() {
			var idx Index
			if err := rows.Scan(&idx.Name, &idx.Column, &idx.Unique, &idx.Primary); err != nil {
				return err
			}
			indexes = append(indexes, idx)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		detail = &TableDetail{Columns: cols, Indexes: indexes}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// RunQuery executes arbitrary SQL. The statement text is not inspected or
// restricted; this layer only executes and shapes the result.
func (m *Manager) RunQuery(ctx context.Context, query string) (*QueryResult, error) {
	var result *QueryResult
	err := m.Execute(ctx, func(ctx context.Context, conn Conn) error {
		result = nil

		rows, err := conn.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		res := &QueryResult{}
		fields := rows.FieldDescriptions()
		for _, f := range fields {
			res.Columns = append(res.Columns, f.Name)
		}
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return err
			}
			row := make([]string, len(values))
			for i, v := range values {
				row[i] = formatValue(v)
			}
			res.Rows = append(res.Rows, row)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if len(fields) == 0 {
			n := rows.CommandTag().RowsAffected()
			res.AffectedRows = &n
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func scanColumns(ctx context.Context, conn Conn, query string, args ...any) ([]Column, error) {
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		var maxLen sql.NullInt64
		var def sql.NullString
		var nullable string
		if err := rows.Scan(&c.Name, &c.DataType, &maxLen, &def, &nullable, &c.Position); err != nil {
			return nil, err
		}
		if maxLen.Valid {
			c.MaxLength = &maxLen.Int64
		}
		if def.Valid {
			c.Default = &def.String
		}
		c.Nullable = nullable == "YES"
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// formatValue normalizes a driver value to display-safe text.
func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case string:
		return v
	case []byte:
		if utf8.Valid(v) {
			return string(v)
		}
		return `\x` + hex.EncodeToString(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	}
	// pgtype values (numeric, uuid, intervals, ...) render themselves
	// through the driver.Valuer they all implement.
	if dv, ok := v.(driver.Valuer); ok {
		if out, err := dv.Value(); err == nil {
			if out == nil {
				return "NULL"
			}
			if s, ok := out.(string); ok {
				return s
			}
			return fmt.Sprint(out)
		}
	}
	return fmt.Sprint(v)
}
