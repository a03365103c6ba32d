package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchPathQueryCount(s *script) int {
	count := 0

	for _, q := range s.queries {
		if strings.Contains(q, "SHOW search_path") {
			count++
		}
	}

	return count
}

func TestCurrentSchema_ExpandsUserToken(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := newScript()
	s.searchPath = `"$user", public`
	s.currentUser = "analytics"
	s.schemas = map[string]bool{"analytics": true, "public": true}

	session := NewSession(newScriptedDB(t, s), testLogger())

	schema, err := session.CurrentSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "analytics", schema, "$user expands to the current role and wins when its schema exists")
}

func TestCurrentSchema_SkipsMissingSchemas(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := newScript()
	s.searchPath = `reporting, "$user", public`
	s.currentUser = "matview"
	s.schemas = map[string]bool{"public": true}

	session := NewSession(newScriptedDB(t, s), testLogger())

	schema, err := session.CurrentSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "public", schema, "entries naming missing schemas are skipped")
}

func TestCurrentSchema_FallsBackToPublic(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := newScript()
	s.searchPath = `reporting, staging`
	s.schemas = map[string]bool{}

	session := NewSession(newScriptedDB(t, s), testLogger())

	schema, err := session.CurrentSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "public", schema, "public is the last resort when nothing on the path exists")
}

func TestCurrentSchema_CachedAfterFirstResolution(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := newScript()
	session := NewSession(newScriptedDB(t, s), testLogger())

	for range 3 {
		schema, err := session.CurrentSchema(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "public", schema)
	}

	assert.Equal(t, 1, searchPathQueryCount(s), "search_path resolves once per session")
}

func TestConnectionIdle(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := newScript()
	db := newScriptedDB(t, s)

	tests := []struct {
		name string
		conn Conn
		want bool
	}{
		{
			name: "plain database handle cannot report status",
			conn: db,
			want: false,
		},
		{
			name: "reporter outside transaction",
			conn: idleConn{DB: db, inTransaction: false},
			want: true,
		},
		{
			name: "reporter inside transaction",
			conn: idleConn{DB: db, inTransaction: true},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := NewSession(tt.conn, testLogger())

			assert.Equal(t, tt.want, session.ConnectionIdle())
		})
	}
}

func TestParseSearchPath(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name       string
		searchPath string
		want       []string
	}{
		{
			name:       "default path",
			searchPath: `"$user", public`,
			want:       []string{"$user", "public"},
		},
		{
			name:       "quoted mixed-case schema",
			searchPath: `"Analytics", public`,
			want:       []string{"Analytics", "public"},
		},
		{
			name:       "single entry",
			searchPath: "public",
			want:       []string{"public"},
		},
		{
			name:       "surrounding whitespace",
			searchPath: "  reporting ,  public  ",
			want:       []string{"reporting", "public"},
		},
		{
			name:       "empty entries dropped",
			searchPath: `public, ""`,
			want:       []string{"public"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseSearchPath(tt.searchPath))
		})
	}
}
