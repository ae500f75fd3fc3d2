// Package extractors pulls named variables out of an observed response so
// later workflow steps can reference them.
package extractors

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/testbench-io/testbench/internal/assertions"
	"github.com/testbench-io/testbench/internal/wire"
)

// Extractor sources.
const (
	SourceJSONPath = "JSONPATH"
	SourceHeader   = "HEADER"
	SourceStatus   = "STATUS"
	SourceJQ       = "JQ"
	SourceRegex    = "REGEX"
)

// Sources lists every supported extractor source.
var Sources = []string{SourceJSONPath, SourceHeader, SourceStatus, SourceJQ, SourceRegex}

// Failure describes a variable that could not be extracted.
type Failure struct {
	Variable string
	Message  string
}

func (f Failure) Error() string {
	return fmt.Sprintf("extract %s: %s", f.Variable, f.Message)
}

// Supported reports whether source names a known extractor source.
func Supported(source string) bool {
	switch normalize(source) {
	case SourceJSONPath, SourceHeader, SourceStatus, SourceJQ, SourceRegex:
		return true
	}
	return false
}

func normalize(source string) string {
	s := strings.ToUpper(strings.TrimSpace(source))
	if s == "JSON_PATH" {
		return SourceJSONPath
	}
	return s
}

// Extract evaluates one extractor against resp.
func Extract(spec wire.ExtractorSpec, resp wire.Response) (string, error) {
	switch normalize(spec.Source) {
	case SourceJSONPath:
		v, err := assertions.QueryJSONPath(spec.Expression, resp.Body)
		if err != nil {
			return "", err
		}
		return assertions.Stringify(v), nil

	case SourceJQ:
		v, err := assertions.QueryJQ(spec.Expression, resp.Body)
		if err != nil {
			return "", err
		}
		return assertions.Stringify(v), nil

	case SourceHeader:
		if spec.Expression == "" {
			return "", fmt.Errorf("header name (expression) is required")
		}
		values, ok := resp.Header(spec.Expression)
		if !ok || len(values) == 0 {
			return "", fmt.Errorf("header %s not present in response", spec.Expression)
		}
		return values[0], nil

	case SourceStatus:
		return strconv.Itoa(resp.StatusCode), nil

	case SourceRegex:
		re, err := regexp.Compile(spec.Expression)
		if err != nil {
			return "", fmt.Errorf("invalid pattern %q: %w", spec.Expression, err)
		}
		m := re.FindSubmatch(resp.Body)
		if m == nil {
			return "", fmt.Errorf("pattern %q did not match response body", spec.Expression)
		}
		// First capture group when present, whole match otherwise.
		if len(m) > 1 {
			return string(m[1]), nil
		}
		return string(m[0]), nil

	default:
		return "", fmt.Errorf("unsupported extractor source %q", spec.Source)
	}
}

// ExtractAll evaluates specs in order. A failing extractor never stops the
// others; it is reported in the returned failures instead.
func ExtractAll(specs []wire.ExtractorSpec, resp wire.Response) (map[string]string, []Failure) {
	values := make(map[string]string, len(specs))
	var failures []Failure
	for _, spec := range specs {
		v, err := Extract(spec, resp)
		if err != nil {
			failures = append(failures, Failure{Variable: spec.VariableName, Message: err.Error()})
			continue
		}
		values[spec.VariableName] = v
	}
	return values, failures
}
