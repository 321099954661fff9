// Introspection builds a View directly from a live database's catalog,
// spec.md §4.5 mode (a). Query shapes follow the teacher's
// database/postgres/database.go conventions: plain db.Query calls against
// pg_catalog/information_schema, row-by-row Scan into local vars, sorted by
// schema then name so results are deterministic across runs.
package schemaview

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// introspectConcurrency bounds how many tables are introspected at once,
// following database/concurrent.go's ConcurrentMapFuncWithError pattern
// (errgroup.SetLimit rather than an unbounded fan-out per table).
const introspectConcurrency = 8

// Introspect queries db for every ordinary table in schemas not in
// pg_catalog/information_schema and returns a View built from them. It is
// the schema.mode=introspect path of spec.md §6.2.
func Introspect(ctx context.Context, db *sql.DB) (*View, error) {
	names, err := tableNames(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("schemaview: list tables: %w", err)
	}

	var mu sync.Mutex
	tables := make(map[string]Table, len(names))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(introspectConcurrency)
	for _, name := range names {
		name := name
		eg.Go(func() error {
			t, err := introspectTable(egCtx, db, name)
			if err != nil {
				return fmt.Errorf("schemaview: introspect %s: %w", name, err)
			}
			mu.Lock()
			tables[name] = t
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return New(tables), nil
}

func tableNames(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		select n.nspname as table_schema, c.relname as table_name
		from pg_catalog.pg_class c
		inner join pg_catalog.pg_namespace n on c.relnamespace = n.oid
		where n.nspname not in ('information_schema', 'pg_catalog', 'pg_toast')
		and c.relkind in ('r', 'p')
		and c.relispartition = false
		order by n.nspname asc, c.relname asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var schema, name string
		if err := rows.Scan(&schema, &name); err != nil {
			return nil, err
		}
		if schema == "public" {
			names = append(names, name)
		} else {
			names = append(names, schema+"."+name)
		}
	}
	return names, rows.Err()
}

func introspectTable(ctx context.Context, db *sql.DB, name string) (Table, error) {
	columns, err := introspectColumns(ctx, db, name)
	if err != nil {
		return Table{}, err
	}
	pkCols, err := introspectPrimaryKey(ctx, db, name)
	if err != nil {
		return Table{}, err
	}
	for i := range columns {
		if contains(pkCols, columns[i].Name) {
			columns[i].PK = true
		}
	}
	indexes, err := introspectIndexes(ctx, db, name)
	if err != nil {
		return Table{}, err
	}

	var constraints []Constraint
	if len(pkCols) > 0 {
		constraints = append(constraints, Constraint{Kind: "primary_key", Columns: pkCols})
	}
	fks, err := introspectForeignKeys(ctx, db, name)
	if err != nil {
		return Table{}, err
	}
	constraints = append(constraints, fks...)

	return Table{
		Name:        name,
		Columns:     columns,
		Constraints: constraints,
		Indexes:     indexes,
	}, nil
}

func introspectColumns(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	schema, bare := splitTableName(table)
	rows, err := db.QueryContext(ctx, `
		select column_name, data_type, is_nullable, column_default
		from information_schema.columns
		where table_schema = $1 and table_name = $2
		order by ordinal_position asc
	`, schema, bare)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var name, dataType, nullable string
		var def sql.NullString
		if err := rows.Scan(&name, &dataType, &nullable, &def); err != nil {
			return nil, err
		}
		col := Column{
			Name:     name,
			TypeTag:  typeTagFor(dataType),
			RawType:  dataType,
			Nullable: nullable == "YES",
		}
		if def.Valid {
			v := def.String
			col.Default = &v
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func introspectPrimaryKey(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	schema, bare := splitTableName(table)
	rows, err := db.QueryContext(ctx, `
		select kcu.column_name
		from information_schema.table_constraints tc
		join information_schema.key_column_usage kcu
			on tc.constraint_name = kcu.constraint_name
			and tc.table_schema = kcu.table_schema
		where tc.constraint_type = 'PRIMARY KEY'
			and tc.table_schema = $1 and tc.table_name = $2
		order by kcu.ordinal_position asc
	`, schema, bare)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

func introspectForeignKeys(ctx context.Context, db *sql.DB, table string) ([]Constraint, error) {
	schema, bare := splitTableName(table)
	rows, err := db.QueryContext(ctx, `
		select
			tc.constraint_name,
			kcu.column_name,
			ccu.table_schema, ccu.table_name, ccu.column_name
		from information_schema.table_constraints tc
		join information_schema.key_column_usage kcu
			on tc.constraint_name = kcu.constraint_name and tc.table_schema = kcu.table_schema
		join information_schema.constraint_column_usage ccu
			on tc.constraint_name = ccu.constraint_name and tc.table_schema = ccu.table_schema
		where tc.constraint_type = 'FOREIGN KEY'
			and tc.table_schema = $1 and tc.table_name = $2
		order by tc.constraint_name asc, kcu.ordinal_position asc
	`, schema, bare)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byName := map[string]*Constraint{}
	var order []string
	for rows.Next() {
		var conName, col, refSchema, refTable, refCol string
		if err := rows.Scan(&conName, &col, &refSchema, &refTable, &refCol); err != nil {
			return nil, err
		}
		c, ok := byName[conName]
		if !ok {
			refName := refTable
			if refSchema != "public" {
				refName = refSchema + "." + refTable
			}
			c = &Constraint{Kind: "foreign_key", RefTable: refName}
			byName[conName] = c
			order = append(order, conName)
		}
		c.Columns = append(c.Columns, col)
		c.RefColumns = append(c.RefColumns, refCol)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Constraint, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

func introspectIndexes(ctx context.Context, db *sql.DB, table string) ([]Index, error) {
	schema, bare := splitTableName(table)
	rows, err := db.QueryContext(ctx, `
		select
			i.relname as index_name,
			ix.indisunique as is_unique,
			a.attname as column_name
		from pg_catalog.pg_class t
		join pg_catalog.pg_namespace n on n.oid = t.relnamespace
		join pg_catalog.pg_index ix on ix.indrelid = t.oid
		join pg_catalog.pg_class i on i.oid = ix.indexrelid
		join pg_catalog.pg_attribute a on a.attrelid = t.oid and a.attnum = any(ix.indkey)
		where n.nspname = $1 and t.relname = $2 and not ix.indisprimary
		order by i.relname asc, array_position(ix.indkey, a.attnum) asc
	`, schema, bare)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byName := map[string]*Index{}
	var order []string
	for rows.Next() {
		var name string
		var unique bool
		var col string
		if err := rows.Scan(&name, &unique, &col); err != nil {
			return nil, err
		}
		idx, ok := byName[name]
		if !ok {
			idx = &Index{Name: name, Unique: unique}
			byName[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Index, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

func splitTableName(table string) (schema, name string) {
	for i := 0; i < len(table); i++ {
		if table[i] == '.' {
			return table[:i], table[i+1:]
		}
	}
	return "public", table
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// typeTagFor normalizes an information_schema.columns.data_type spelling
// into the TypeTag enumeration grammar rules consult.
func typeTagFor(dataType string) TypeTag {
	switch dataType {
	case "smallint", "integer", "bigint":
		return TypeInteger
	case "numeric", "decimal", "real", "double precision":
		return TypeNumeric
	case "boolean":
		return TypeBoolean
	case "character varying", "character", "text", "citext":
		return TypeString
	case "bytea":
		return TypeBytes
	case "date", "timestamp without time zone", "timestamp with time zone",
		"time without time zone", "time with time zone", "interval":
		return TypeTemporal
	case "json", "jsonb":
		return TypeJSON
	case "ARRAY":
		return TypeArray
	case "uuid":
		return TypeUUID
	case "inet", "cidr", "macaddr":
		return TypeNetwork
	case "int4range", "int8range", "numrange", "tsrange", "tstzrange", "daterange":
		return TypeRange
	default:
		return TypeOther
	}
}
