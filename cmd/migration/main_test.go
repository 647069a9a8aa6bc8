package main

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	script := `
-- the contacts list
CREATE TABLE contacts (
    id INT PRIMARY KEY,
    title VARCHAR(255)
);

INSERT INTO contacts (id, title) VALUES (1, 'Krummacker');
`
	statements, err := splitStatements(strings.NewReader(script))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"CREATE TABLE contacts ( id INT PRIMARY KEY, title VARCHAR(255) );",
		"INSERT INTO contacts (id, title) VALUES (1, 'Krummacker');",
	}, statements)
}

// TestSplitStatementsScripts expects the shipped scripts to create the table and the seed data.
func TestSplitStatementsScripts(t *testing.T) {
	for _, file := range []string{"../../scripts/database.sql", "../../scripts/database.postgres.sql"} {
		f, err := os.Open(file)
		require.NoError(t, err)
		statements, err := splitStatements(f)
		f.Close()
		require.NoError(t, err)
		require.Len(t, statements, 6, file)
		assert.True(t, strings.HasPrefix(statements[1], "CREATE TABLE contacts"), file)
	}
}
