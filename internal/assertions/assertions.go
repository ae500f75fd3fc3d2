// Package assertions evaluates typed assertions against an observed
// response. Evaluation never returns an error: malformed or unsupported
// assertions produce a failing outcome with a diagnostic message.
package assertions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/itchyny/gojq"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"github.com/xeipuuv/gojsonschema"

	"github.com/testbench-io/testbench/internal/wire"
)

// Assertion types.
const (
	TypeStatusEquals         = "STATUS_EQUALS"
	TypeHeaderEquals         = "HEADER_EQUALS"
	TypeHeaderExists         = "HEADER_EXISTS"
	TypeBodyContains         = "BODY_CONTAINS"
	TypeJSONPathEquals       = "JSONPATH_EQUALS"
	TypeJSONPathExists       = "JSONPATH_EXISTS"
	TypeJQEquals             = "JQ_EQUALS"
	TypeJSONSchemaValid      = "JSON_SCHEMA_VALID"
	TypeRegexMatch           = "REGEX_MATCH"
	TypeResponseTimeLessThan = "RESPONSE_TIME_LESS_THAN"
	TypeScript               = "SCRIPT"
)

// Types lists every supported assertion type.
var Types = []string{
	TypeStatusEquals,
	TypeHeaderEquals,
	TypeHeaderExists,
	TypeBodyContains,
	TypeJSONPathEquals,
	TypeJSONPathExists,
	TypeJQEquals,
	TypeJSONSchemaValid,
	TypeRegexMatch,
	TypeResponseTimeLessThan,
	TypeScript,
}

type evaluator func(spec wire.AssertionSpec, resp wire.Response) (actual *string, passed bool, message string)

var evaluators = map[string]evaluator{
	TypeStatusEquals:         evalStatusEquals,
	TypeHeaderEquals:         evalHeaderEquals,
	TypeHeaderExists:         evalHeaderExists,
	TypeBodyContains:         evalBodyContains,
	TypeJSONPathEquals:       evalJSONPathEquals,
	TypeJSONPathExists:       evalJSONPathExists,
	TypeJQEquals:             evalJQEquals,
	TypeJSONSchemaValid:      evalJSONSchemaValid,
	TypeRegexMatch:           evalRegexMatch,
	TypeResponseTimeLessThan: evalResponseTimeLessThan,
	TypeScript:               evalScript,
}

// Supported reports whether t names a known assertion type.
func Supported(t string) bool {
	_, ok := evaluators[strings.ToUpper(strings.TrimSpace(t))]
	return ok
}

// Evaluate checks one assertion against resp.
func Evaluate(spec wire.AssertionSpec, resp wire.Response) (out wire.AssertionOutcome) {
	out = wire.AssertionOutcome{
		AssertionID: spec.ID,
		Type:        spec.Type,
		Target:      spec.Target,
	}

	eval, ok := evaluators[strings.ToUpper(strings.TrimSpace(spec.Type))]
	if !ok {
		out.Message = fmt.Sprintf("unsupported assertion type %q", spec.Type)
		return out
	}

	defer func() {
		if r := recover(); r != nil {
			out.Passed = false
			out.Actual = nil
			out.Message = fmt.Sprintf("assertion evaluation panicked: %v", r)
		}
	}()

	out.Actual, out.Passed, out.Message = eval(spec, resp)
	return out
}

// EvaluateAll evaluates specs in order.
func EvaluateAll(specs []wire.AssertionSpec, resp wire.Response) []wire.AssertionOutcome {
	outcomes := make([]wire.AssertionOutcome, 0, len(specs))
	for _, spec := range specs {
		outcomes = append(outcomes, Evaluate(spec, resp))
	}
	return outcomes
}

func strPtr(s string) *string { return &s }

func evalStatusEquals(spec wire.AssertionSpec, resp wire.Response) (*string, bool, string) {
	actual := strconv.Itoa(resp.StatusCode)
	expected := strings.TrimSpace(spec.Expected)
	if expected == actual {
		return strPtr(actual), true, ""
	}
	return strPtr(actual), false, fmt.Sprintf("expected status %s but got %s", expected, actual)
}

func evalHeaderEquals(spec wire.AssertionSpec, resp wire.Response) (*string, bool, string) {
	if spec.Target == "" {
		return nil, false, "header name (target) is required"
	}
	values, ok := resp.Header(spec.Target)
	if !ok {
		return nil, false, fmt.Sprintf("header %q not present in response", spec.Target)
	}
	actual := strings.Join(values, ", ")
	if actual == spec.Expected {
		return strPtr(actual), true, ""
	}
	return strPtr(actual), false, fmt.Sprintf("expected header %q to be %q but got %q", spec.Target, spec.Expected, actual)
}

func evalHeaderExists(spec wire.AssertionSpec, resp wire.Response) (*string, bool, string) {
	if spec.Target == "" {
		return nil, false, "header name (target) is required"
	}
	values, ok := resp.Header(spec.Target)
	if !ok {
		return nil, false, fmt.Sprintf("header %q not present in response", spec.Target)
	}
	return strPtr(strings.Join(values, ", ")), true, ""
}

func evalBodyContains(spec wire.AssertionSpec, resp wire.Response) (*string, bool, string) {
	if strings.Contains(string(resp.Body), spec.Expected) {
		return nil, true, ""
	}
	return nil, false, fmt.Sprintf("response body does not contain %q", spec.Expected)
}

func evalJSONPathExists(spec wire.AssertionSpec, resp wire.Response) (*string, bool, string) {
	nodes, err := queryJSONPath(spec.Target, resp.Body)
	if err != nil {
		return nil, false, err.Error()
	}
	if len(nodes) == 0 {
		return nil, false, fmt.Sprintf("JSONPath %s matched nothing", spec.Target)
	}
	return strPtr(Stringify(nodes[0])), true, ""
}

func evalJSONPathEquals(spec wire.AssertionSpec, resp wire.Response) (*string, bool, string) {
	nodes, err := queryJSONPath(spec.Target, resp.Body)
	if err != nil {
		return nil, false, err.Error()
	}
	if len(nodes) == 0 {
		return nil, false, fmt.Sprintf("JSONPath %s matched nothing", spec.Target)
	}

	var actual string
	if len(nodes) == 1 {
		actual = Stringify(nodes[0])
	} else {
		actual = Stringify(nodes)
	}
	if actual == spec.Expected {
		return strPtr(actual), true, ""
	}
	return strPtr(actual), false, fmt.Sprintf("expected %s to be %q but got %q", spec.Target, spec.Expected, actual)
}

func evalJQEquals(spec wire.AssertionSpec, resp wire.Response) (*string, bool, string) {
	v, err := QueryJQ(spec.Target, resp.Body)
	if err != nil {
		return nil, false, err.Error()
	}
	actual := Stringify(v)
	if actual == spec.Expected {
		return strPtr(actual), true, ""
	}
	return strPtr(actual), false, fmt.Sprintf("expected jq %s to be %q but got %q", spec.Target, spec.Expected, actual)
}

func evalJSONSchemaValid(spec wire.AssertionSpec, resp wire.Response) (*string, bool, string) {
	if strings.TrimSpace(spec.Expected) == "" {
		return nil, false, "schema document (expected) is required"
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(spec.Expected),
		gojsonschema.NewBytesLoader(resp.Body),
	)
	if err != nil {
		return nil, false, fmt.Sprintf("schema validation error: %v", err)
	}
	if result.Valid() {
		return nil, true, ""
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return nil, false, "response does not match schema: " + strings.Join(problems, "; ")
}

func evalRegexMatch(spec wire.AssertionSpec, resp wire.Response) (*string, bool, string) {
	re, err := regexp.Compile(spec.Expected)
	if err != nil {
		return nil, false, fmt.Sprintf("invalid pattern %q: %v", spec.Expected, err)
	}
	if m := re.Find(resp.Body); m != nil {
		return strPtr(string(m)), true, ""
	}
	return nil, false, fmt.Sprintf("response body does not match %q", spec.Expected)
}

func evalResponseTimeLessThan(spec wire.AssertionSpec, resp wire.Response) (*string, bool, string) {
	actual := strconv.FormatInt(resp.LatencyMs, 10)
	threshold, err := strconv.ParseInt(strings.TrimSpace(spec.Expected), 10, 64)
	if err != nil {
		return strPtr(actual), false, fmt.Sprintf("invalid millisecond threshold %q", spec.Expected)
	}
	if resp.LatencyMs < threshold {
		return strPtr(actual), true, ""
	}
	return strPtr(actual), false, fmt.Sprintf("response took %dms, expected less than %dms", resp.LatencyMs, threshold)
}

// queryJSONPath parses body as JSON and evaluates a JSONPath expression.
func queryJSONPath(path string, body []byte) ([]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("JSONPath (target) is required")
	}
	expr, err := jp.ParseString(path)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONPath %q: %v", path, err)
	}
	data, err := oj.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("response body is not valid JSON: %v", err)
	}
	return expr.Get(data), nil
}

// QueryJSONPath returns the first node matched by path in body.
func QueryJSONPath(path string, body []byte) (any, error) {
	nodes, err := queryJSONPath(path, body)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("JSONPath %s matched nothing", path)
	}
	return nodes[0], nil
}

// QueryJQ runs a jq program against body and returns its first result.
func QueryJQ(program string, body []byte) (any, error) {
	if strings.TrimSpace(program) == "" {
		return nil, fmt.Errorf("jq expression (target) is required")
	}
	query, err := gojq.Parse(program)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression %q: %v", program, err)
	}
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("response body is not valid JSON: %v", err)
	}
	iter := query.Run(data)
	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("jq expression %s returned no results", program)
	}
	if err, ok := v.(error); ok {
		return nil, fmt.Errorf("error evaluating jq expression %s: %w", program, err)
	}
	return v, nil
}

// Stringify renders a decoded JSON value the way assertions compare it:
// strings bare, numbers without trailing zeros, everything else as JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
