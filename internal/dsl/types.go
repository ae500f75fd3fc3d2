package dsl

// TestType discriminates TestCase.
type TestType string

const (
	TestTypeREST TestType = "REST"
	TestTypeSOAP TestType = "SOAP"
	TestTypeE2E  TestType = "E2E"
)

// BodyType tells how a request body is encoded.
type BodyType string

const (
	BodyNone   BodyType = "NONE"
	BodyJSON   BodyType = "JSON"
	BodyXML    BodyType = "XML"
	BodyText   BodyType = "TEXT"
	BodyForm   BodyType = "FORM"
	BodyBinary BodyType = "BINARY"
)

// AuthType selects how credentials are rendered onto a request.
type AuthType string

const (
	AuthNone   AuthType = "NONE"
	AuthBasic  AuthType = "BASIC"
	AuthBearer AuthType = "BEARER"
	AuthAPIKey AuthType = "API_KEY"
)

// SOAP versions.
const (
	SoapVersion11 = "1.1"
	SoapVersion12 = "1.2"
)

// Document is a parsed definition file.
type Document struct {
	Version int     `json:"version" yaml:"version"`
	Project Project `json:"project" yaml:"project"`
	Suites  []Suite `json:"suites" yaml:"suites"`
}

// Project carries the lowest-precedence variables and named environments.
type Project struct {
	Name         string                       `json:"name" yaml:"name"`
	Variables    map[string]string            `json:"variables,omitempty" yaml:"variables,omitempty"`
	Environments map[string]map[string]string `json:"environments,omitempty" yaml:"environments,omitempty"`
}

// Suite is an ordered group of test cases.
type Suite struct {
	ID        string            `json:"id" yaml:"id"`
	Name      string            `json:"name" yaml:"name"`
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
	Tests     []TestCase        `json:"tests" yaml:"tests"`
}

// TestCase is a REST, SOAP or E2E test. Exactly one of Request, Soap or
// Steps is meaningful, selected by Type.
type TestCase struct {
	ID         string       `json:"id" yaml:"id"`
	Name       string       `json:"name" yaml:"name"`
	Type       TestType     `json:"type" yaml:"type"`
	Request    *RestRequest `json:"request,omitempty" yaml:"request,omitempty"`
	Soap       *SoapRequest `json:"soap,omitempty" yaml:"soap,omitempty"`
	Assertions []Assertion  `json:"assertions,omitempty" yaml:"assertions,omitempty"`
	Steps      []E2eStep    `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// E2eStep is one request in a workflow. A step carries either a REST
// request or a SOAP request.
type E2eStep struct {
	Name       string       `json:"name" yaml:"name"`
	Request    *RestRequest `json:"request,omitempty" yaml:"request,omitempty"`
	Soap       *SoapRequest `json:"soap,omitempty" yaml:"soap,omitempty"`
	Assertions []Assertion  `json:"assertions,omitempty" yaml:"assertions,omitempty"`
	Extract    []Extractor  `json:"extract,omitempty" yaml:"extract,omitempty"`
}

// RestRequest describes an HTTP call.
type RestRequest struct {
	Method  string            `json:"method" yaml:"method"`
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Query   map[string]string `json:"query,omitempty" yaml:"query,omitempty"`
	Body    *Body             `json:"body,omitempty" yaml:"body,omitempty"`
	Auth    *Auth             `json:"auth,omitempty" yaml:"auth,omitempty"`
}

// Body is a typed request body. BINARY bodies use Base64.
type Body struct {
	Type    BodyType          `json:"type" yaml:"type"`
	Content string            `json:"content,omitempty" yaml:"content,omitempty"`
	Base64  string            `json:"base64,omitempty" yaml:"base64,omitempty"`
	Form    map[string]string `json:"form,omitempty" yaml:"form,omitempty"`
}

// Auth holds request credentials. For API_KEY, In is "header" (default) or
// "query" and Key names the header or parameter.
type Auth struct {
	Type     AuthType `json:"type" yaml:"type"`
	Username string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password string   `json:"password,omitempty" yaml:"password,omitempty"`
	Token    string   `json:"token,omitempty" yaml:"token,omitempty"`
	Key      string   `json:"key,omitempty" yaml:"key,omitempty"`
	Value    string   `json:"value,omitempty" yaml:"value,omitempty"`
	In       string   `json:"in,omitempty" yaml:"in,omitempty"`
}

// SoapRequest describes a SOAP call. Calls are always POSTed.
type SoapRequest struct {
	URL      string            `json:"url" yaml:"url"`
	Version  string            `json:"version,omitempty" yaml:"version,omitempty"`
	Action   string            `json:"action,omitempty" yaml:"action,omitempty"`
	Envelope string            `json:"envelope" yaml:"envelope"`
	Headers  map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Assertion is a check on the response. ID is optional; the translator
// assigns one when it is empty.
type Assertion struct {
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	Type     string `json:"type" yaml:"type"`
	Target   string `json:"target,omitempty" yaml:"target,omitempty"`
	Expected string `json:"expected,omitempty" yaml:"expected,omitempty"`
}

// Extractor saves part of a step response as a variable.
type Extractor struct {
	Variable   string `json:"variable" yaml:"variable"`
	Source     string `json:"source" yaml:"source"`
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Suite looks a suite up by id.
func (d *Document) Suite(id string) (*Suite, bool) {
	for i := range d.Suites {
		if d.Suites[i].ID == id {
			return &d.Suites[i], true
		}
	}
	return nil, false
}

// Test looks a test up by id across all suites and returns its suite too.
func (d *Document) Test(id string) (*TestCase, *Suite, bool) {
	for i := range d.Suites {
		s := &d.Suites[i]
		for j := range s.Tests {
			if s.Tests[j].ID == id {
				return &s.Tests[j], s, true
			}
		}
	}
	return nil, nil, false
}
