package prompt

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

//go:embed templates/*.md
var builtinFS embed.FS

var (
	varRe      = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe   = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	ifCloseStr = "{{/if}}"
)

// Vars is a map of variable names to values for template rendering.
type Vars map[string]string

// Render expands a template string with the given variables.
// {{variable}} is replaced with its value; missing variables cause an error.
// {{#if variable}}...{{/if}} blocks are included only if the variable is
// non-empty.
func Render(tmpl string, vars Vars) (string, error) {
	result, err := processConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	expanded := varRe.ReplaceAllStringFunc(result, func(match string) string {
		m := varRe.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		if val, ok := vars[m[1]]; ok {
			return val
		}
		missing = append(missing, m[1])
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// processConditionals handles {{#if var}}...{{/if}} blocks, innermost first.
func processConditionals(tmpl string, vars Vars) (string, error) {
	result := tmpl
	for {
		closeIdx := strings.Index(result, ifCloseStr)
		if closeIdx == -1 {
			break
		}

		prefix := result[:closeIdx]
		openLocs := ifOpenRe.FindAllStringIndex(prefix, -1)
		if openLocs == nil {
			return "", fmt.Errorf("dangling {{/if}} without matching {{#if}}")
		}

		lastOpen := openLocs[len(openLocs)-1]
		openTag := prefix[lastOpen[0]:lastOpen[1]]
		m := ifOpenRe.FindStringSubmatch(openTag)
		if m == nil {
			return "", fmt.Errorf("failed to parse conditional tag: %s", openTag)
		}

		body := result[lastOpen[1]:closeIdx]
		var replacement string
		if val, ok := vars[m[1]]; ok && val != "" {
			replacement = body
		}
		result = result[:lastOpen[0]] + replacement + result[closeIdx+len(ifCloseStr):]
	}

	if loc := ifOpenRe.FindString(result); loc != "" {
		return "", fmt.Errorf("unclosed conditional block: %s", loc)
	}
	return result, nil
}

// Load returns the template for the given name (e.g. "lld.md"). A
// repo-local override at {repoDir}/.steward/prompts/{name} wins over the
// embedded default.
func Load(name string, repoDir string) (string, error) {
	if repoDir != "" {
		override := filepath.Join(repoDir, ".steward", "prompts", name)
		if data, err := os.ReadFile(override); err == nil {
			return string(data), nil
		}
	}

	data, err := builtinFS.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("no prompt template %q (no repo override, no builtin): %w", name, err)
	}
	return string(data), nil
}
