// Package translator turns stored test definitions into protocol-neutral
// units of work and folds worker results back into run records.
package translator

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/testbench-io/testbench/internal/dsl"
	"github.com/testbench-io/testbench/internal/wire"
)

// ErrDefinition marks a test definition that cannot be executed. No run is
// created for such a definition.
var ErrDefinition = errors.New("invalid test definition")

const (
	contentTypeJSON     = "application/json"
	contentTypeXML      = "application/xml"
	contentTypeText     = "text/plain; charset=utf-8"
	contentTypeForm     = "application/x-www-form-urlencoded"
	contentTypeBinary   = "application/octet-stream"
	contentTypeSoap11   = "text/xml; charset=utf-8"
	contentTypeSoap12   = "application/soap+xml; charset=utf-8"
	defaultAPIKeyHeader = "X-API-Key"
)

// Unit is one dispatchable piece of work: an API test or one E2E step.
type Unit struct {
	Request    wire.Request
	Assertions []wire.AssertionSpec
	Extractors []wire.ExtractorSpec
}

func definitionErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDefinition, fmt.Sprintf(format, args...))
}

// TranslateTest builds the unit for a REST or SOAP test case with vars
// substituted into it.
func TranslateTest(tc *dsl.TestCase, vars map[string]string) (Unit, error) {
	if tc == nil {
		return Unit{}, definitionErrorf("test case is required")
	}

	var (
		req wire.Request
		err error
	)
	switch tc.Type {
	case dsl.TestTypeREST:
		req, err = buildRest(tc.Request, vars)
	case dsl.TestTypeSOAP:
		req, err = buildSoap(tc.Soap, vars)
	case dsl.TestTypeE2E:
		return Unit{}, definitionErrorf("test %q: E2E tests are translated step by step", tc.ID)
	default:
		panic(fmt.Sprintf("translator: unknown test type %q", tc.Type))
	}
	if err != nil {
		return Unit{}, fmt.Errorf("test %q: %w", tc.ID, err)
	}

	specs, err := assertionSpecs(tc.Assertions, vars)
	if err != nil {
		return Unit{}, fmt.Errorf("test %q: %w", tc.ID, err)
	}
	return Unit{Request: req, Assertions: specs}, nil
}

// TranslateStep builds the unit for one E2E step. vars is the running
// context: resolved variables plus everything extracted by earlier steps.
func TranslateStep(step *dsl.E2eStep, vars map[string]string) (Unit, error) {
	if step == nil {
		return Unit{}, definitionErrorf("step is required")
	}

	var (
		req wire.Request
		err error
	)
	switch {
	case step.Request != nil && step.Soap != nil:
		err = definitionErrorf("request and soap are mutually exclusive")
	case step.Request != nil:
		req, err = buildRest(step.Request, vars)
	case step.Soap != nil:
		req, err = buildSoap(step.Soap, vars)
	default:
		err = definitionErrorf("request is required")
	}
	if err != nil {
		return Unit{}, fmt.Errorf("step %q: %w", step.Name, err)
	}

	specs, err := assertionSpecs(step.Assertions, vars)
	if err != nil {
		return Unit{}, fmt.Errorf("step %q: %w", step.Name, err)
	}
	unit := Unit{Request: req, Assertions: specs}
	for _, ex := range step.Extract {
		unit.Extractors = append(unit.Extractors, wire.ExtractorSpec{
			VariableName: ex.Variable,
			Source:       ex.Source,
			Expression:   ex.Expression,
		})
	}
	return unit, nil
}

// Validate checks that every unit of tc can be built. E2E steps are checked
// against vars alone, so references to extracted variables stay unresolved.
func Validate(tc *dsl.TestCase, vars map[string]string) error {
	if tc == nil {
		return definitionErrorf("test case is required")
	}
	if tc.Type != dsl.TestTypeE2E {
		_, err := TranslateTest(tc, vars)
		return err
	}
	if len(tc.Steps) == 0 {
		return fmt.Errorf("test %q: %w", tc.ID, definitionErrorf("E2E test has no steps"))
	}
	for i := range tc.Steps {
		if _, err := TranslateStep(&tc.Steps[i], vars); err != nil {
			return fmt.Errorf("test %q: %w", tc.ID, err)
		}
	}
	return nil
}

func buildRest(r *dsl.RestRequest, vars map[string]string) (wire.Request, error) {
	if r == nil {
		return wire.Request{}, definitionErrorf("request is required")
	}

	rawURL := strings.TrimSpace(dsl.ProcessTemplate(r.URL, vars))
	if rawURL == "" {
		return wire.Request{}, definitionErrorf("request url is required")
	}
	method := strings.ToUpper(strings.TrimSpace(r.Method))
	if method == "" {
		method = "GET"
	}

	headers := dsl.ProcessTemplateMap(r.Headers, vars)
	if headers == nil {
		headers = make(map[string]string)
	}
	query := dsl.ProcessTemplateMap(r.Query, vars)

	if err := applyAuth(r.Auth, vars, headers, &query); err != nil {
		return wire.Request{}, err
	}

	var body []byte
	if r.Body != nil && bodyAllowed(method) {
		b, contentType, err := buildBody(r.Body, vars)
		if err != nil {
			return wire.Request{}, err
		}
		body = b
		if contentType != "" && !hasHeader(headers, "Content-Type") {
			headers["Content-Type"] = contentType
		}
	}

	return wire.Request{
		Method:  method,
		URL:     appendQuery(rawURL, query),
		Headers: headers,
		Body:    body,
	}, nil
}

// bodyAllowed reports whether a body is sent for method. GET, HEAD and
// DELETE requests are sent without one.
func bodyAllowed(method string) bool {
	switch method {
	case "GET", "HEAD", "DELETE":
		return false
	}
	return true
}

func buildBody(b *dsl.Body, vars map[string]string) ([]byte, string, error) {
	switch b.Type {
	case dsl.BodyNone, "":
		return nil, "", nil
	case dsl.BodyJSON:
		return []byte(dsl.ProcessTemplate(b.Content, vars)), contentTypeJSON, nil
	case dsl.BodyXML:
		return []byte(dsl.ProcessTemplate(b.Content, vars)), contentTypeXML, nil
	case dsl.BodyText:
		return []byte(dsl.ProcessTemplate(b.Content, vars)), contentTypeText, nil
	case dsl.BodyForm:
		if len(b.Form) > 0 {
			form := url.Values{}
			for k, v := range b.Form {
				form.Set(k, dsl.ProcessTemplate(v, vars))
			}
			return []byte(form.Encode()), contentTypeForm, nil
		}
		return []byte(dsl.ProcessTemplate(b.Content, vars)), contentTypeForm, nil
	case dsl.BodyBinary:
		if b.Base64 == "" {
			return []byte(b.Content), contentTypeBinary, nil
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b.Base64))
		if err != nil {
			return nil, "", definitionErrorf("binary body is not valid base64: %v", err)
		}
		return raw, contentTypeBinary, nil
	default:
		panic(fmt.Sprintf("translator: unknown body type %q", b.Type))
	}
}

func applyAuth(a *dsl.Auth, vars map[string]string, headers map[string]string, query *map[string]string) error {
	if a == nil {
		return nil
	}
	switch a.Type {
	case dsl.AuthNone, "":
	case dsl.AuthBasic:
		creds := dsl.ProcessTemplate(a.Username, vars) + ":" + dsl.ProcessTemplate(a.Password, vars)
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
	case dsl.AuthBearer:
		token := dsl.ProcessTemplate(a.Token, vars)
		if token == "" {
			return definitionErrorf("bearer auth requires a token")
		}
		headers["Authorization"] = "Bearer " + token
	case dsl.AuthAPIKey:
		key := a.Key
		if key == "" {
			key = defaultAPIKeyHeader
		}
		value := dsl.ProcessTemplate(a.Value, vars)
		if strings.EqualFold(a.In, "query") {
			if *query == nil {
				*query = make(map[string]string)
			}
			(*query)[key] = value
		} else {
			headers[key] = value
		}
	default:
		panic(fmt.Sprintf("translator: unknown auth type %q", a.Type))
	}
	return nil
}

func buildSoap(s *dsl.SoapRequest, vars map[string]string) (wire.Request, error) {
	if s == nil {
		return wire.Request{}, definitionErrorf("soap request is required")
	}
	endpoint := strings.TrimSpace(dsl.ProcessTemplate(s.URL, vars))
	if endpoint == "" {
		return wire.Request{}, definitionErrorf("soap url is required")
	}
	envelope := dsl.ProcessTemplate(s.Envelope, vars)
	if strings.TrimSpace(envelope) == "" {
		return wire.Request{}, definitionErrorf("soap envelope is required")
	}

	headers := dsl.ProcessTemplateMap(s.Headers, vars)
	if headers == nil {
		headers = make(map[string]string)
	}
	action := strings.TrimSpace(dsl.ProcessTemplate(s.Action, vars))

	switch s.Version {
	case dsl.SoapVersion11, "":
		if action == "" {
			action, _ = headerValue(headers, "SOAPAction")
			action = strings.TrimSpace(action)
		}
		if action == "" {
			return wire.Request{}, definitionErrorf("SOAP 1.1 requires a SOAPAction")
		}
		setHeader(headers, "SOAPAction", action)
		if !hasHeader(headers, "Content-Type") {
			headers["Content-Type"] = contentTypeSoap11
		}
	case dsl.SoapVersion12:
		if !hasHeader(headers, "Content-Type") {
			ct := contentTypeSoap12
			if action != "" {
				ct += fmt.Sprintf("; action=%q", action)
			}
			headers["Content-Type"] = ct
		}
	default:
		return wire.Request{}, definitionErrorf("unsupported soap version %q", s.Version)
	}

	return wire.Request{
		Method:  "POST",
		URL:     endpoint,
		Headers: headers,
		Body:    []byte(envelope),
	}, nil
}

// assertionSpecs gives every assertion an id that is unique within the
// unit. Assertions without one get a<index>, suffixed when an explicit id
// already uses that name.
func assertionSpecs(list []dsl.Assertion, vars map[string]string) ([]wire.AssertionSpec, error) {
	if len(list) == 0 {
		return nil, nil
	}
	taken := make(map[string]bool, len(list))
	for i, a := range list {
		if a.ID == "" {
			continue
		}
		if taken[a.ID] {
			return nil, definitionErrorf("assertion %d: duplicate assertion id %q", i, a.ID)
		}
		taken[a.ID] = true
	}

	specs := make([]wire.AssertionSpec, 0, len(list))
	for i, a := range list {
		id := a.ID
		if id == "" {
			id = fmt.Sprintf("a%d", i)
			for n := 1; taken[id]; n++ {
				id = fmt.Sprintf("a%d_%d", i, n)
			}
			taken[id] = true
		}
		specs = append(specs, wire.AssertionSpec{
			ID:       id,
			Type:     strings.ToUpper(strings.TrimSpace(a.Type)),
			Target:   dsl.ProcessTemplate(a.Target, vars),
			Expected: dsl.ProcessTemplate(a.Expected, vars),
		})
	}
	return specs, nil
}

// appendQuery adds params to rawURL in sorted key order.
func appendQuery(rawURL string, params map[string]string) string {
	if len(params) == 0 {
		return rawURL
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(rawURL)
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	for _, k := range keys {
		b.WriteString(sep)
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
		sep = "&"
	}
	return b.String()
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

func headerValue(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// setHeader replaces every case variant of name with a single key.
func setHeader(headers map[string]string, name, value string) {
	for k := range headers {
		if strings.EqualFold(k, name) {
			delete(headers, k)
		}
	}
	headers[name] = value
}
