package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveVariablesPrecedence(t *testing.T) {
	project := map[string]string{"baseUrl": "http://project", "apiKey": "p", "onlyProject": "1"}
	suite := map[string]string{"baseUrl": "http://suite", "onlySuite": "2"}
	env := map[string]string{"baseUrl": "http://env"}

	got := ResolveVariables(project, suite, env)
	assert.Equal(t, map[string]string{
		"baseUrl":     "http://env",
		"apiKey":      "p",
		"onlyProject": "1",
		"onlySuite":   "2",
	}, got)

	// every key follows env > suite > project
	for k, v := range got {
		switch {
		case env[k] != "":
			assert.Equal(t, env[k], v)
		case suite[k] != "":
			assert.Equal(t, suite[k], v)
		default:
			assert.Equal(t, project[k], v)
		}
	}

	assert.Equal(t, "http://project", project["baseUrl"], "inputs must not be modified")
}

func TestResolveVariablesNilScopes(t *testing.T) {
	got := ResolveVariables(nil, nil, nil)
	require.NotNil(t, got)
	assert.Empty(t, got)

	got = ResolveVariables(nil, map[string]string{"a": "1"}, nil)
	assert.Equal(t, map[string]string{"a": "1"}, got)
}

func TestDocumentVariables(t *testing.T) {
	doc, err := ParseYAML([]byte(shopYAML))
	require.NoError(t, err)

	vars, err := doc.Variables("orders", "")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", vars["baseUrl"])
	assert.Equal(t, "suite-key", vars["apiKey"])

	vars, err = doc.Variables("orders", "staging")
	require.NoError(t, err)
	assert.Equal(t, "https://staging.shop.example", vars["baseUrl"])

	_, err = doc.Variables("orders", "prod")
	assert.ErrorContains(t, err, "environment \"prod\"")

	_, err = doc.Variables("payments", "")
	assert.ErrorContains(t, err, "suite \"payments\" not found")
}

func TestMergeVariables(t *testing.T) {
	base := map[string]string{"a": "1", "b": "2"}
	got := MergeVariables(base, map[string]string{"b": "3"})
	assert.Equal(t, map[string]string{"a": "1", "b": "3"}, got)
	assert.Equal(t, "2", base["b"])
}
