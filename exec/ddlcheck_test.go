package exec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryforge/rqg/endpoint"
)

func TestPreflightSyntaxCheckAcceptsValidDDL(t *testing.T) {
	err := preflightSyntaxCheck("CREATE TABLE widgets (id int PRIMARY KEY)")
	assert.NoError(t, err)
}

func TestPreflightSyntaxCheckRejectsInvalidDDL(t *testing.T) {
	err := preflightSyntaxCheck("CREATE TBLE oops (id int)")
	assert.Error(t, err)
}

func TestSubmitDDLWithBadSyntaxNeverReachesEndpoint(t *testing.T) {
	ddl := &fakeEndpoint{}
	c := New(Config{
		DDLEndpoint:     ddl,
		DMLEndpoints:    map[int]endpoint.Endpoint{0: &fakeEndpoint{}},
		ContinueOnError: true,
	}, nil)

	out, err := c.Submit(context.Background(), rec(0, "CREATE TBLE oops (id int)"))
	require.NoError(t, err)
	assert.Equal(t, endpoint.OutcomeSQLError, out.Kind)
	assert.Equal(t, "42", out.Code)
	assert.Empty(t, ddl.statements)
	assert.Equal(t, uint64(1), c.Stats().ErrorsByClass()["42"])
}
