package model

import (
	"regexp"
	"strings"
)

// exprPattern finds `${{ ... }}` occurrences. The inner expression is a
// dotted context reference; anything else resolves to the empty string, the
// same way GitHub Actions treats unknown references.
var exprPattern = regexp.MustCompile(`\$\{\{([^}]*)\}\}`)

// Expression contexts understood by the interpolator.
const (
	exprCtxMatrix  = "matrix"
	exprCtxSecrets = "secrets"
	exprCtxEnv     = "env"
	exprCtxGitHub  = "github"
)

var knownExprContexts = map[string]bool{
	exprCtxMatrix:  true,
	exprCtxSecrets: true,
	exprCtxEnv:     true,
	exprCtxGitHub:  true,
}

// ExprContext supplies values for `${{ ... }}` interpolation in step
// commands, environment values, working directories, and coverage file
// names.
type ExprContext struct {
	Matrix  MatrixCell
	Secrets map[string]string
	Env     map[string]string
	GitHub  map[string]string
}

// GitHubContext builds the `github.*` value map for a run of the given
// event.
func GitHubContext(ev *Event, runID string) map[string]string {
	if ev == nil {
		return map[string]string{"run_id": runID}
	}
	return map[string]string{
		"sha":        ev.SHA,
		"ref":        ev.Ref,
		"ref_name":   ev.RefName,
		"repository": ev.Repository,
		"event_name": string(ev.Name),
		"actor":      ev.Actor,
		"run_id":     runID,
	}
}

// Interpolate replaces every `${{ context.key }}` reference in s. The
// replacement is a single pass: resolved values are not re-expanded.
// Unknown contexts and unknown keys resolve to the empty string.
func (c *ExprContext) Interpolate(s string) string {
	if !strings.Contains(s, "${{") {
		return s
	}

	return exprPattern.ReplaceAllStringFunc(s, func(match string) string {
		inner := strings.TrimSpace(exprPattern.FindStringSubmatch(match)[1])
		ctxName, key, ok := strings.Cut(inner, ".")
		if !ok {
			return ""
		}

		switch ctxName {
		case exprCtxMatrix:
			if c.Matrix != nil {
				return c.Matrix.Get(key)
			}
		case exprCtxSecrets:
			return c.Secrets[key]
		case exprCtxEnv:
			return c.Env[key]
		case exprCtxGitHub:
			return c.GitHub[key]
		}
		return ""
	})
}

// InterpolateMap applies Interpolate to every value of a map, returning a
// new map. A nil input yields nil.
func (c *ExprContext) InterpolateMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = c.Interpolate(v)
	}
	return out
}

// UnknownExprContexts returns the context names referenced by s that the
// interpolator does not understand. Validation reports them as findings.
func UnknownExprContexts(s string) []string {
	var unknown []string
	for _, match := range exprPattern.FindAllStringSubmatch(s, -1) {
		inner := strings.TrimSpace(match[1])
		ctxName, _, ok := strings.Cut(inner, ".")
		if !ok {
			unknown = append(unknown, inner)
			continue
		}
		if !knownExprContexts[ctxName] {
			unknown = append(unknown, ctxName)
		}
	}
	return unknown
}
