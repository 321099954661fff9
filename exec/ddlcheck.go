package exec

import (
	pgquery "github.com/pganalyze/pg_query_go/v6"
)

// preflightSyntaxCheck reports whether text parses as valid PostgreSQL
// syntax, using pg_query_go/v6's real (CGO-linked) grammar rather than
// go-pgquery's wasm port: this runs on the hot submission path ahead of
// the barrier lock and a network round trip, so it's worth paying for the
// authoritative parser here even though schemaview's own DDL-mode parsing
// (ddlparse.go) runs go-pgquery's wasm parser instead.
//
// Generated DDL that fails this check is almost always a grammar bug, not
// something the database would accept on retry, so submitDDL treats it as
// a permanent SqlError-shaped outcome without ever dialing the DDL
// endpoint.
func preflightSyntaxCheck(text string) error {
	_, err := pgquery.Parse(text)
	return err
}
