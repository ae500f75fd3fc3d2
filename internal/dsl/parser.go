package dsl

import (
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"github.com/testbench-io/testbench/internal/assertions"
	"github.com/testbench-io/testbench/internal/extractors"
)

// ParseYAML validates a definition file against the schema, decodes it and
// checks the structural rules the schema cannot express.
func ParseYAML(yamlPayload []byte) (*Document, error) {
	if err := ValidateYAMLWithSchema(yamlPayload); err != nil {
		return nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(yamlPayload, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ParseFile reads and parses a definition file.
func ParseFile(path string) (*Document, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, err := ParseYAML(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Validate checks ids, discriminants and references.
func (d *Document) Validate() error {
	if d.Version != 1 {
		return fmt.Errorf("unsupported version: %d", d.Version)
	}
	if len(d.Suites) == 0 {
		return fmt.Errorf("no suites defined")
	}

	suiteIDs := make(map[string]bool)
	testIDs := make(map[string]string)
	for i, s := range d.Suites {
		if s.ID == "" {
			return fmt.Errorf("suite %d: an id is required for each suite", i)
		}
		if suiteIDs[s.ID] {
			return fmt.Errorf("suite %q: duplicate suite id", s.ID)
		}
		suiteIDs[s.ID] = true

		if len(s.Tests) == 0 {
			return fmt.Errorf("suite %q: no tests defined for this suite", s.ID)
		}
		for j := range s.Tests {
			tc := &s.Tests[j]
			if tc.ID == "" {
				return fmt.Errorf("suite %q: test %d: an id is required for each test", s.ID, j)
			}
			if other, dup := testIDs[tc.ID]; dup {
				return fmt.Errorf("test %q: duplicate test id (also in suite %q)", tc.ID, other)
			}
			testIDs[tc.ID] = s.ID

			if err := tc.Validate(); err != nil {
				return fmt.Errorf("suite %q: %w", s.ID, err)
			}
		}
	}
	return nil
}

// Validate checks a single test case definition.
func (tc *TestCase) Validate() error {
	switch tc.Type {
	case TestTypeREST:
		if tc.Request == nil {
			return fmt.Errorf("test %q: a request is required for REST tests", tc.ID)
		}
		if err := tc.Request.validate(); err != nil {
			return fmt.Errorf("test %q: %w", tc.ID, err)
		}
	case TestTypeSOAP:
		if tc.Soap == nil {
			return fmt.Errorf("test %q: a soap request is required for SOAP tests", tc.ID)
		}
		if err := tc.Soap.validate(); err != nil {
			return fmt.Errorf("test %q: %w", tc.ID, err)
		}
	case TestTypeE2E:
		if len(tc.Steps) == 0 {
			return fmt.Errorf("test %q: no steps defined for this test", tc.ID)
		}
		if len(tc.Assertions) > 0 {
			return fmt.Errorf("test %q: E2E tests carry assertions on their steps", tc.ID)
		}
		for k, step := range tc.Steps {
			if err := step.validate(); err != nil {
				return fmt.Errorf("test %q: step %d: %w", tc.ID, k, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("test %q: unsupported test type %q", tc.ID, tc.Type)
	}
	return validateAssertions(tc.Assertions)
}

func (s E2eStep) validate() error {
	if s.Name == "" {
		return fmt.Errorf("a name is required for each step")
	}
	switch {
	case s.Request != nil && s.Soap != nil:
		return fmt.Errorf("step %q: request and soap are mutually exclusive", s.Name)
	case s.Request != nil:
		if err := s.Request.validate(); err != nil {
			return fmt.Errorf("step %q: %w", s.Name, err)
		}
	case s.Soap != nil:
		if err := s.Soap.validate(); err != nil {
			return fmt.Errorf("step %q: %w", s.Name, err)
		}
	default:
		return fmt.Errorf("step %q: a request is required for each step", s.Name)
	}

	if err := validateAssertions(s.Assertions); err != nil {
		return fmt.Errorf("step %q: %w", s.Name, err)
	}
	seen := make(map[string]bool)
	for _, ex := range s.Extract {
		if ex.Variable == "" {
			return fmt.Errorf("step %q: extractor variable name is required", s.Name)
		}
		if seen[ex.Variable] {
			return fmt.Errorf("step %q: variable %q extracted twice", s.Name, ex.Variable)
		}
		seen[ex.Variable] = true
		if !extractors.Supported(ex.Source) {
			return fmt.Errorf("step %q: unsupported extractor source %q", s.Name, ex.Source)
		}
	}
	return nil
}

func (r *RestRequest) validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("request url is required")
	}
	if r.Method == "" {
		return fmt.Errorf("request method is required")
	}
	if r.Body != nil {
		switch r.Body.Type {
		case BodyNone, BodyJSON, BodyXML, BodyText, BodyForm, BodyBinary:
		default:
			return fmt.Errorf("unsupported body type %q", r.Body.Type)
		}
	}
	if r.Auth != nil {
		switch r.Auth.Type {
		case AuthNone, AuthBasic, AuthBearer, AuthAPIKey:
		default:
			return fmt.Errorf("unsupported auth type %q", r.Auth.Type)
		}
	}
	return nil
}

func (r *SoapRequest) validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("soap url is required")
	}
	if strings.TrimSpace(r.Envelope) == "" {
		return fmt.Errorf("soap envelope is required")
	}
	switch r.Version {
	case "", SoapVersion11, SoapVersion12:
	default:
		return fmt.Errorf("unsupported soap version %q", r.Version)
	}
	return nil
}

func validateAssertions(list []Assertion) error {
	ids := make(map[string]bool)
	for i, a := range list {
		if !assertions.Supported(a.Type) {
			return fmt.Errorf("assertion %d: unsupported assertion type %q", i, a.Type)
		}
		if a.ID == "" {
			continue
		}
		if ids[a.ID] {
			return fmt.Errorf("assertion %d: duplicate assertion id %q", i, a.ID)
		}
		ids[a.ID] = true
	}
	return nil
}
