package dsl

import "fmt"

// ResolveVariables merges variable scopes. Later scopes win: environment
// overrides suite, suite overrides project. Nil maps count as empty and the
// inputs are never modified.
func ResolveVariables(project, suite, env map[string]string) map[string]string {
	resolved := make(map[string]string, len(project)+len(suite)+len(env))
	for _, scope := range []map[string]string{project, suite, env} {
		for k, v := range scope {
			resolved[k] = v
		}
	}
	return resolved
}

// Variables resolves the variable set for a suite in the named environment.
// An empty env uses only project and suite variables.
func (d *Document) Variables(suiteID, env string) (map[string]string, error) {
	var suiteVars map[string]string
	if suiteID != "" {
		s, ok := d.Suite(suiteID)
		if !ok {
			return nil, fmt.Errorf("suite %q not found", suiteID)
		}
		suiteVars = s.Variables
	}

	var envVars map[string]string
	if env != "" {
		vars, ok := d.Project.Environments[env]
		if !ok {
			return nil, fmt.Errorf("environment %q not defined in project %q", env, d.Project.Name)
		}
		envVars = vars
	}

	return ResolveVariables(d.Project.Variables, suiteVars, envVars), nil
}

// MergeVariables returns base overlaid with overlay as a new map.
func MergeVariables(base, overlay map[string]string) map[string]string {
	return ResolveVariables(base, overlay, nil)
}
