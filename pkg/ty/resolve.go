package ty

import (
	"os"
	"regexp"
	"strings"
)

var varRegex = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)(:-(.*?))?\}|\$([a-zA-Z_][a-zA-Z0-9_]*)`)

// ResolveVars replaces ${VAR}, ${VAR:-default} and $VAR occurrences in input.
// Values from vars win over the environment; unresolved references are kept.
func ResolveVars(input string, vars map[string]string) string {
	return varRegex.ReplaceAllStringFunc(input, func(v string) string {
		parts := strings.SplitN(v, ":-", 2)
		varName := strings.Trim(parts[0], "${}")
		varName = strings.Trim(varName, "$")

		if val, ok := vars[varName]; ok {
			return val
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}

		if len(parts) == 2 {
			return strings.TrimSuffix(parts[1], "}")
		}

		return v
	})
}

func (ms MS) ResolveVariables() MS {
	return ms.ResolveVariablesWith(map[string]string{})
}

func (ms MS) ResolveVariablesWith(vars map[string]string) MS {
	msResolved := MS{}

	for k, v := range ms {
		msResolved[k] = ResolveVars(v, vars)
	}

	return msResolved
}

// ResolveVariables on MI resolves string values, and strings nested in lists
// and maps, using the same logic as MS. Other values are copied unchanged.
func (mi MI) ResolveVariables() MI {
	return mi.ResolveVariablesWith(map[string]string{})
}

func (mi MI) ResolveVariablesWith(vars map[string]string) MI {
	resolved := MI{}
	for k, v := range mi {
		resolved[k] = resolveAny(v, vars)
	}
	return resolved
}

func resolveAny(v interface{}, vars map[string]string) interface{} {
	switch vv := v.(type) {
	case string:
		return ResolveVars(vv, vars)
	case []string:
		out := make([]string, len(vv))
		for i, s := range vv {
			out[i] = ResolveVars(s, vars)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, s := range vv {
			out[i] = resolveAny(s, vars)
		}
		return out
	case MI:
		return vv.ResolveVariablesWith(vars)
	case map[string]interface{}:
		return MI(vv).ResolveVariablesWith(vars)
	default:
		return v
	}
}
