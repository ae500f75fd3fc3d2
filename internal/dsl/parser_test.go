package dsl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shopYAML = `
version: 1
project:
  name: shop
  variables:
    baseUrl: http://localhost:8080
    apiKey: dev-key
  environments:
    staging:
      baseUrl: https://staging.shop.example
suites:
  - id: orders
    name: Orders
    variables:
      apiKey: suite-key
    tests:
      - id: get-health
        name: Health check
        type: REST
        request:
          method: GET
          url: "{{baseUrl}}/health"
        assertions:
          - type: STATUS_EQUALS
            expected: 200
          - id: fast
            type: RESPONSE_TIME_LESS_THAN
            expected: 500
      - id: currency
        name: Currency conversion
        type: SOAP
        soap:
          url: "{{baseUrl}}/soap"
          version: "1.1"
          action: urn:Convert
          envelope: |
            <soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body/></soap:Envelope>
        assertions:
          - type: BODY_CONTAINS
            expected: Envelope
      - id: checkout
        name: Checkout flow
        type: E2E
        steps:
          - name: create order
            request:
              method: POST
              url: "{{baseUrl}}/orders"
              body:
                type: JSON
                content: '{"sku":"A-1"}'
            assertions:
              - type: STATUS_EQUALS
                expected: "201"
            extract:
              - variable: orderId
                source: JSONPATH
                expression: $.id
          - name: get order
            request:
              method: GET
              url: "{{baseUrl}}/orders/{{orderId}}"
            assertions:
              - type: JSONPATH_EQUALS
                target: $.id
                expected: "{{orderId}}"
`

func TestParseYAML(t *testing.T) {
	doc, err := ParseYAML([]byte(shopYAML))
	require.NoError(t, err)

	assert.Equal(t, "shop", doc.Project.Name)
	require.Len(t, doc.Suites, 1)
	require.Len(t, doc.Suites[0].Tests, 3)

	health, suite, ok := doc.Test("get-health")
	require.True(t, ok)
	assert.Equal(t, "orders", suite.ID)
	assert.Equal(t, TestTypeREST, health.Type)
	assert.Equal(t, "200", health.Assertions[0].Expected, "numeric scalars decode as strings")
	assert.Equal(t, "fast", health.Assertions[1].ID)

	soap, _, ok := doc.Test("currency")
	require.True(t, ok)
	assert.Equal(t, SoapVersion11, soap.Soap.Version)
	assert.Equal(t, "urn:Convert", soap.Soap.Action)

	flow, _, ok := doc.Test("checkout")
	require.True(t, ok)
	require.Len(t, flow.Steps, 2)
	assert.Equal(t, BodyJSON, flow.Steps[0].Request.Body.Type)
	assert.Equal(t, "orderId", flow.Steps[0].Extract[0].Variable)

	_, _, ok = doc.Test("nope")
	assert.False(t, ok)
}

func TestParseYAML_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "wrong version",
			yaml:    "version: 2\nsuites: [{id: s, tests: [{id: t, type: REST, request: {method: GET, url: x}}]}]",
			wantErr: "schema validation failed",
		},
		{
			name:    "no suites",
			yaml:    "version: 1\nsuites: []",
			wantErr: "schema validation failed",
		},
		{
			name:    "REST without request",
			yaml:    "version: 1\nsuites: [{id: s, tests: [{id: t, type: REST}]}]",
			wantErr: "schema validation failed",
		},
		{
			name:    "unknown assertion type",
			yaml:    "version: 1\nsuites: [{id: s, tests: [{id: t, type: REST, request: {method: GET, url: x}, assertions: [{type: STATUS_IS}]}]}]",
			wantErr: "schema validation failed",
		},
		{
			name:    "duplicate test id",
			yaml:    "version: 1\nsuites: [{id: a, tests: [{id: t, type: REST, request: {method: GET, url: x}}]}, {id: b, tests: [{id: t, type: REST, request: {method: GET, url: y}}]}]",
			wantErr: "duplicate test id",
		},
		{
			name:    "duplicate suite id",
			yaml:    "version: 1\nsuites: [{id: a, tests: [{id: t1, type: REST, request: {method: GET, url: x}}]}, {id: a, tests: [{id: t2, type: REST, request: {method: GET, url: y}}]}]",
			wantErr: "duplicate suite id",
		},
		{
			name:    "duplicate assertion id",
			yaml:    "version: 1\nsuites: [{id: s, tests: [{id: t, type: REST, request: {method: GET, url: x}, assertions: [{id: a, type: STATUS_EQUALS, expected: 200}, {id: a, type: BODY_CONTAINS, expected: ok}]}]}]",
			wantErr: "duplicate assertion id",
		},
		{
			name:    "variable extracted twice",
			yaml:    "version: 1\nsuites: [{id: s, tests: [{id: t, type: E2E, steps: [{name: one, request: {method: GET, url: x}, extract: [{variable: v, source: STATUS}, {variable: v, source: STATUS}]}]}]}]",
			wantErr: "extracted twice",
		},
		{
			name:    "not yaml",
			yaml:    "version: [1",
			wantErr: "failed to unmarshal YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(shopYAML), 0o600))

	doc, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, doc.Suites, 1)

	_, err = ParseFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestTestCaseValidate(t *testing.T) {
	tc := TestCase{ID: "x", Type: "GRAPHQL"}
	assert.ErrorContains(t, tc.Validate(), "unsupported test type")

	tc = TestCase{ID: "x", Type: TestTypeE2E, Steps: []E2eStep{{Name: "s"}}}
	assert.ErrorContains(t, tc.Validate(), "a request is required")

	tc = TestCase{ID: "x", Type: TestTypeSOAP, Soap: &SoapRequest{URL: "http://x", Envelope: " "}}
	assert.ErrorContains(t, tc.Validate(), "soap envelope is required")

	tc = TestCase{ID: "x", Type: TestTypeREST, Request: &RestRequest{Method: "GET", URL: "http://x", Body: &Body{Type: "PROTOBUF"}}}
	assert.ErrorContains(t, tc.Validate(), "unsupported body type")
}
