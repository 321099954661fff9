// DDL parsing builds a View from a batch of CREATE/ALTER statements,
// spec.md §4.5 mode (b) — the "schema.mode=ddl_file" path used when no
// live database connection is available for introspection. It walks the
// pgquery AST the same way the teacher's database/postgres/parser.go does
// (switch over node.Node.(type), one parse* method per statement/node
// kind), but only extracts the reduced subset spec.md names: CREATE TABLE,
// column NOT NULL/DEFAULT/PRIMARY KEY/UNIQUE/REFERENCES/CHECK, ALTER TABLE
// ADD CONSTRAINT, and CREATE INDEX. Anything else is tolerated and
// produces a warning rather than a hard failure, since a DDL file may
// freely mix in views, extensions, grants and the like that a query
// generator has no use for.
//
// go-pgquery (a pure-Go/wasm port of the same grammar) does the parsing
// here rather than pg_query_go/v6's cgo parser; this package still imports
// pg_query_go/v6 for the AST node types it switches over. The exec package
// calls pg_query_go/v6's parser for a cheap pre-submission syntax check
// (see exec/ddlcheck.go).
package schemaview

import (
	"fmt"
	"strings"

	pgquery "github.com/pganalyze/pg_query_go/v6"
	go_pgquery "github.com/wasilibs/go-pgquery"
)

// ParseDDL parses a batch of semicolon-separated DDL statements and folds
// them into a View. Statements this package doesn't recognize are skipped;
// the returned warnings describe what was dropped.
func ParseDDL(sql string) (*View, []string, error) {
	result, err := go_pgquery.Parse(sql)
	if err != nil {
		return nil, nil, fmt.Errorf("schemaview: parse ddl: %w", err)
	}

	tables := map[string]Table{}
	var warnings []string

	for _, raw := range result.Stmts {
		switch node := raw.Stmt.Node.(type) {
		case *pgquery.Node_CreateStmt:
			t, err := parseCreateStmt(node.CreateStmt)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("create table: %s", err))
				continue
			}
			tables[t.Name] = t
		case *pgquery.Node_IndexStmt:
			name, idx, err := parseIndexStmt(node.IndexStmt)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("create index: %s", err))
				continue
			}
			t, ok := tables[name]
			if !ok {
				warnings = append(warnings, fmt.Sprintf("create index %s: unknown table %s", idx.Name, name))
				continue
			}
			t.Indexes = append(t.Indexes, idx)
			tables[name] = t
		case *pgquery.Node_AlterTableStmt:
			name, constraint, err := parseAlterTableAddConstraint(node.AlterTableStmt)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("alter table: %s", err))
				continue
			}
			t, ok := tables[name]
			if !ok {
				warnings = append(warnings, fmt.Sprintf("alter table %s: unknown table", name))
				continue
			}
			t.Constraints = append(t.Constraints, constraint)
			tables[name] = t
		default:
			warnings = append(warnings, fmt.Sprintf("ignoring unsupported statement kind %T", node))
		}
	}

	return New(tables), warnings, nil
}

func qualifiedName(rel *pgquery.RangeVar) string {
	if rel.Schemaname == "" || rel.Schemaname == "public" {
		return rel.Relname
	}
	return rel.Schemaname + "." + rel.Relname
}

func parseCreateStmt(stmt *pgquery.CreateStmt) (Table, error) {
	name := qualifiedName(stmt.Relation)
	var columns []Column
	var constraints []Constraint

	for _, elt := range stmt.TableElts {
		switch node := elt.Node.(type) {
		case *pgquery.Node_ColumnDef:
			col, pk, extra, err := parseColumnDef(node.ColumnDef)
			if err != nil {
				return Table{}, fmt.Errorf("column %s: %w", node.ColumnDef.Colname, err)
			}
			columns = append(columns, col)
			if pk {
				constraints = append(constraints, Constraint{Kind: "primary_key", Columns: []string{col.Name}})
			}
			constraints = append(constraints, extra...)
		case *pgquery.Node_Constraint:
			c, err := parseTableConstraint(node.Constraint)
			if err != nil {
				return Table{}, err
			}
			constraints = append(constraints, c)
		default:
			// Like clauses, partition specs, etc. are out of scope.
		}
	}

	return Table{Name: name, Columns: columns, Constraints: constraints}, nil
}

// parseColumnDef returns the Column, whether it carries an inline PRIMARY
// KEY constraint, and any inline UNIQUE/CHECK/REFERENCES constraints as
// Constraints scoped to this one column — the same Kind/Columns/RefTable/
// RefColumns/Expr shape parseTableConstraint produces for the table-level
// forms of the same clauses, just with a single-column Columns slice.
func parseColumnDef(col *pgquery.ColumnDef) (Column, bool, []Constraint, error) {
	typeName, err := parseTypeName(col.TypeName)
	if err != nil {
		return Column{}, false, nil, err
	}

	out := Column{
		Name:     col.Colname,
		TypeTag:  typeTagFor(typeName),
		RawType:  typeName,
		Nullable: true,
	}
	var pk bool
	var extra []Constraint

	for _, cc := range col.Constraints {
		constraint, ok := cc.Node.(*pgquery.Node_Constraint)
		if !ok {
			continue
		}
		switch constraint.Constraint.Contype {
		case pgquery.ConstrType_CONSTR_NOTNULL:
			out.Nullable = false
		case pgquery.ConstrType_CONSTR_PRIMARY:
			out.Nullable = false
			out.PK = true
			pk = true
		case pgquery.ConstrType_CONSTR_DEFAULT:
			if v, ok := defaultText(constraint.Constraint.RawExpr); ok {
				out.Default = &v
			}
		case pgquery.ConstrType_CONSTR_UNIQUE:
			extra = append(extra, Constraint{Kind: "unique", Columns: []string{out.Name}})
		case pgquery.ConstrType_CONSTR_CHECK:
			extra = append(extra, Constraint{
				Kind:    "check",
				Columns: []string{out.Name},
				Expr:    exprSource(constraint.Constraint.RawExpr),
			})
		case pgquery.ConstrType_CONSTR_FOREIGN:
			extra = append(extra, Constraint{
				Kind:       "foreign_key",
				Columns:    []string{out.Name},
				RefTable:   qualifiedName(constraint.Constraint.Pktable),
				RefColumns: keyNames(constraint.Constraint.PkAttrs),
			})
		}
	}

	return out, pk, extra, nil
}

// defaultText renders a DEFAULT clause's raw expression back to source
// text well enough for display purposes; spec.md only needs to know a
// default exists and roughly what it says, not to re-evaluate it.
func defaultText(expr *pgquery.Node) (string, bool) {
	if expr == nil {
		return "", false
	}
	switch n := expr.Node.(type) {
	case *pgquery.Node_AConst:
		switch v := n.AConst.Val.(type) {
		case *pgquery.A_Const_Ival:
			return fmt.Sprint(v.Ival.Ival), true
		case *pgquery.A_Const_Sval:
			return v.Sval.Sval, true
		case *pgquery.A_Const_Boolval:
			return fmt.Sprint(v.Boolval.Boolval), true
		}
	case *pgquery.Node_FuncCall:
		if len(n.FuncCall.Funcname) > 0 {
			if s, ok := n.FuncCall.Funcname[len(n.FuncCall.Funcname)-1].Node.(*pgquery.Node_String_); ok {
				return s.String_.Sval + "()", true
			}
		}
	}
	return "", false
}

func parseTableConstraint(c *pgquery.Constraint) (Constraint, error) {
	cols := keyNames(c.Keys)
	switch c.Contype {
	case pgquery.ConstrType_CONSTR_PRIMARY:
		return Constraint{Kind: "primary_key", Columns: cols}, nil
	case pgquery.ConstrType_CONSTR_UNIQUE:
		return Constraint{Kind: "unique", Columns: cols}, nil
	case pgquery.ConstrType_CONSTR_CHECK:
		return Constraint{Kind: "check", Columns: cols, Expr: exprSource(c.RawExpr)}, nil
	case pgquery.ConstrType_CONSTR_FOREIGN:
		return Constraint{
			Kind:       "foreign_key",
			Columns:    keyNames(c.FkAttrs),
			RefTable:   qualifiedName(c.Pktable),
			RefColumns: keyNames(c.PkAttrs),
		}, nil
	default:
		return Constraint{}, fmt.Errorf("unsupported table constraint type %v", c.Contype)
	}
}

func keyNames(keys []*pgquery.Node) []string {
	var names []string
	for _, k := range keys {
		if s, ok := k.Node.(*pgquery.Node_String_); ok {
			names = append(names, s.String_.Sval)
		}
	}
	return names
}

// exprSource renders a CHECK expression's column references joined by its
// boolean operator well enough for Grammar templates to splice back in;
// a full unparse isn't needed since generated DDL never round-trips through
// this representation, only live introspection's CHECK handling would, and
// information_schema already gives that path the original source text.
func exprSource(expr *pgquery.Node) string {
	if expr == nil {
		return ""
	}
	switch n := expr.Node.(type) {
	case *pgquery.Node_ColumnRef:
		if len(n.ColumnRef.Fields) > 0 {
			if s, ok := n.ColumnRef.Fields[len(n.ColumnRef.Fields)-1].Node.(*pgquery.Node_String_); ok {
				return s.String_.Sval
			}
		}
	case *pgquery.Node_AExpr:
		if len(n.AExpr.Name) > 0 {
			if op, ok := n.AExpr.Name[0].Node.(*pgquery.Node_String_); ok {
				return exprSource(n.AExpr.Lexpr) + " " + op.String_.Sval + " " + exprSource(n.AExpr.Rexpr)
			}
		}
	case *pgquery.Node_AConst:
		if v, ok := n.AConst.Val.(*pgquery.A_Const_Sval); ok {
			return "'" + v.Sval.Sval + "'"
		}
		if v, ok := n.AConst.Val.(*pgquery.A_Const_Ival); ok {
			return fmt.Sprint(v.Ival.Ival)
		}
	}
	return ""
}

func parseIndexStmt(stmt *pgquery.IndexStmt) (tableName string, idx Index, err error) {
	tableName = qualifiedName(stmt.Relation)
	idx.Name = stmt.Idxname
	idx.Unique = stmt.Unique
	for _, param := range stmt.IndexParams {
		elem, ok := param.Node.(*pgquery.Node_IndexElem)
		if !ok || elem.IndexElem.Name == "" {
			continue
		}
		idx.Columns = append(idx.Columns, elem.IndexElem.Name)
	}
	return tableName, idx, nil
}

func parseAlterTableAddConstraint(stmt *pgquery.AlterTableStmt) (string, Constraint, error) {
	name := qualifiedName(stmt.Relation)
	if len(stmt.Cmds) != 1 {
		return "", Constraint{}, fmt.Errorf("only single-command ALTER TABLE is supported")
	}
	cmd, ok := stmt.Cmds[0].Node.(*pgquery.Node_AlterTableCmd)
	if !ok {
		return "", Constraint{}, fmt.Errorf("unsupported alter table command")
	}
	constraintNode, ok := cmd.AlterTableCmd.Def.Node.(*pgquery.Node_Constraint)
	if !ok {
		return "", Constraint{}, fmt.Errorf("unsupported alter table clause (only ADD CONSTRAINT)")
	}
	c, err := parseTableConstraint(constraintNode.Constraint)
	if err != nil {
		return "", Constraint{}, err
	}
	return name, c, nil
}

func parseTypeName(node *pgquery.TypeName) (string, error) {
	if node == nil || len(node.Names) == 0 {
		return "", fmt.Errorf("missing type name")
	}
	var parts []string
	for _, n := range node.Names {
		if s, ok := n.Node.(*pgquery.Node_String_); ok {
			parts = append(parts, s.String_.Sval)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("unreadable type name")
	}
	typeName := parts[len(parts)-1]
	return normalizePgInternalType(typeName), nil
}

// normalizePgInternalType maps pg_catalog internal type spellings (what
// the parser AST reports) onto the same names information_schema.columns
// would report, so typeTagFor's switch serves both schemaview code paths.
func normalizePgInternalType(name string) string {
	switch name {
	case "int2":
		return "smallint"
	case "int4":
		return "integer"
	case "int8":
		return "bigint"
	case "float4":
		return "real"
	case "float8":
		return "double precision"
	case "bpchar":
		return "character"
	case "varchar":
		return "character varying"
	case "bool":
		return "boolean"
	case "timestamptz":
		return "timestamp with time zone"
	case "timetz":
		return "time with time zone"
	default:
		return strings.TrimSpace(name)
	}
}
