package runconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	c := Default()
	c.Grammar = "basic_dml"
	c.Workers = 4
	return c
}

func TestDefaultConfigIsValidOnceGrammarAndWorkersAreSet(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())
}

func TestMissingGrammarIsRejected(t *testing.T) {
	c := validConfig()
	c.Grammar = ""
	require.Error(t, c.Validate())
}

func TestNonPositiveWorkersIsRejected(t *testing.T) {
	c := validConfig()
	c.Workers = 0
	require.Error(t, c.Validate())
}

func TestProbabilisticUniquenessRequiresFPRInRange(t *testing.T) {
	c := validConfig()
	c.Uniqueness.FPR = 1.5
	require.Error(t, c.Validate())

	c.Uniqueness.FPR = 0.01
	require.NoError(t, c.Validate())
}

func TestUniquenessOffSkipsFPRValidation(t *testing.T) {
	c := validConfig()
	c.Uniqueness.Mode = UniquenessOff
	c.Uniqueness.FPR = 0
	c.Uniqueness.Capacity = 0
	require.NoError(t, c.Validate())
}

func TestSchemaIntrospectRequiresSourceAndDSN(t *testing.T) {
	c := validConfig()
	c.Schema.Mode = SchemaIntrospect
	require.Error(t, c.Validate(), "missing schema.source and dsn")

	c.Schema.Source = "postgres://localhost/db"
	require.Error(t, c.Validate(), "missing dsn")

	c.DSN = "postgres://localhost/db"
	assert.NoError(t, c.Validate())
}

func TestOutputFileRequiresPath(t *testing.T) {
	c := validConfig()
	c.Output.Sink = OutputFile
	require.Error(t, c.Validate())

	c.Output.Path = "/tmp/out.sql"
	require.NoError(t, c.Validate())
}
