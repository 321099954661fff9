package schemaview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDDLBuildsTableWithColumnsAndPrimaryKey(t *testing.T) {
	view, warnings, err := ParseDDL(`
		CREATE TABLE widgets (
			id integer PRIMARY KEY,
			name text NOT NULL,
			price numeric DEFAULT 0
		);
	`)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	table, ok := view.Table("widgets")
	require.True(t, ok)
	require.Len(t, table.Columns, 3)

	assert.Equal(t, "id", table.Columns[0].Name)
	assert.True(t, table.Columns[0].PK)
	assert.False(t, table.Columns[0].Nullable)

	assert.Equal(t, "name", table.Columns[1].Name)
	assert.False(t, table.Columns[1].Nullable)

	assert.Equal(t, "price", table.Columns[2].Name)
	require.NotNil(t, table.Columns[2].Default)
	assert.Equal(t, "0", *table.Columns[2].Default)

	require.Len(t, table.Constraints, 1)
	assert.Equal(t, "primary_key", table.Constraints[0].Kind)
	assert.Equal(t, []string{"id"}, table.Constraints[0].Columns)
}

func TestParseDDLInlineColumnConstraints(t *testing.T) {
	view, warnings, err := ParseDDL(`
		CREATE TABLE widgets (
			id integer PRIMARY KEY,
			sku text UNIQUE,
			price numeric CHECK (price > 0),
			owner_id integer REFERENCES users (id)
		);
	`)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	table, ok := view.Table("widgets")
	require.True(t, ok)

	byKind := map[string]Constraint{}
	for _, c := range table.Constraints {
		byKind[c.Kind+":"+c.Columns[0]] = c
	}

	unique, ok := byKind["unique:sku"]
	require.True(t, ok)
	assert.Equal(t, []string{"sku"}, unique.Columns)

	check, ok := byKind["check:price"]
	require.True(t, ok)
	assert.Equal(t, []string{"price"}, check.Columns)
	assert.NotEmpty(t, check.Expr)

	fk, ok := byKind["foreign_key:owner_id"]
	require.True(t, ok)
	assert.Equal(t, []string{"owner_id"}, fk.Columns)
	assert.Equal(t, "users", fk.RefTable)
	assert.Equal(t, []string{"id"}, fk.RefColumns)
}

func TestParseDDLTableLevelUniqueAndForeignKey(t *testing.T) {
	view, warnings, err := ParseDDL(`
		CREATE TABLE orders (
			id integer,
			widget_id integer,
			sku text,
			UNIQUE (sku),
			FOREIGN KEY (widget_id) REFERENCES widgets (id)
		);
	`)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	table, ok := view.Table("orders")
	require.True(t, ok)
	require.Len(t, table.Constraints, 2)

	assert.Equal(t, "unique", table.Constraints[0].Kind)
	assert.Equal(t, []string{"sku"}, table.Constraints[0].Columns)

	assert.Equal(t, "foreign_key", table.Constraints[1].Kind)
	assert.Equal(t, []string{"widget_id"}, table.Constraints[1].Columns)
	assert.Equal(t, "widgets", table.Constraints[1].RefTable)
	assert.Equal(t, []string{"id"}, table.Constraints[1].RefColumns)
}

func TestParseDDLCreateIndexAttachesToKnownTable(t *testing.T) {
	view, warnings, err := ParseDDL(`
		CREATE TABLE widgets (id integer, name text);
		CREATE INDEX widgets_name_idx ON widgets (name);
	`)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	table, ok := view.Table("widgets")
	require.True(t, ok)
	require.Len(t, table.Indexes, 1)
	assert.Equal(t, "widgets_name_idx", table.Indexes[0].Name)
	assert.Equal(t, []string{"name"}, table.Indexes[0].Columns)
	assert.False(t, table.Indexes[0].Unique)
}

func TestParseDDLCreateIndexOnUnknownTableWarns(t *testing.T) {
	view, warnings, err := ParseDDL(`CREATE INDEX foo_idx ON missing_table (col);`)
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)
	assert.Empty(t, view.Tables())
}

func TestParseDDLUnsupportedStatementWarnsRatherThanFails(t *testing.T) {
	view, warnings, err := ParseDDL(`
		CREATE TABLE widgets (id integer);
		CREATE VIEW widgets_v AS SELECT * FROM widgets;
	`)
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)

	_, ok := view.Table("widgets")
	assert.True(t, ok)
}

func TestParseDDLInvalidSyntaxIsAnError(t *testing.T) {
	_, _, err := ParseDDL(`CREATE TBLE oops (id int);`)
	assert.Error(t, err)
}
