// Package policy implements the rule matcher and policy engine: it maps
// requests to configured rules, derives throttle keys, and delegates to the
// per-rule resilient limiters.
package policy

import (
	"context"
	"path"
	"regexp"
	"strings"

	"github.com/quotaflow/quotaflow/internal/config"
	"github.com/quotaflow/quotaflow/internal/ratelimit"
	"github.com/quotaflow/quotaflow/pkg/logger"
)

// patternKind tags how a path pattern is interpreted.
type patternKind int

const (
	patternExact patternKind = iota
	patternGlob
	patternRegex
	patternAll   // bare "*": matches every path
	patternNever // malformed pattern; matches nothing
)

// regexPrefix marks a pattern as a native regular expression.
const regexPrefix = "regex:"

// compiledPattern is a path pattern resolved once at rule-load time, so the
// per-request match never re-parses strings.
type compiledPattern struct {
	kind    patternKind
	literal string
	re      *regexp.Regexp
}

// compilePattern classifies and compiles one raw pattern. A malformed regex is
// downgraded to a never-matching pattern: the rule stays loaded but inert,
// which is logged as a warning rather than failing startup.
func compilePattern(raw string, log logger.Logger) compiledPattern {
	if strings.HasPrefix(raw, regexPrefix) {
		expr := strings.TrimPrefix(raw, regexPrefix)
		re, err := regexp.Compile(expr)
		if err != nil {
			log.Warn(context.Background(), "malformed path pattern, rule will never match it",
				logger.String("pattern", raw),
				logger.String("error", err.Error()),
			)
			return compiledPattern{kind: patternNever, literal: raw}
		}
		return compiledPattern{kind: patternRegex, literal: raw, re: re}
	}

	if raw == "*" {
		return compiledPattern{kind: patternAll, literal: raw}
	}

	if strings.ContainsAny(raw, "*?") {
		return compiledPattern{kind: patternGlob, literal: raw}
	}

	return compiledPattern{kind: patternExact, literal: raw}
}

func (p compiledPattern) matches(requestPath string) bool {
	switch p.kind {
	case patternExact:
		return p.literal == requestPath
	case patternGlob:
		ok, err := path.Match(p.literal, requestPath)
		return err == nil && ok
	case patternRegex:
		return p.re.MatchString(requestPath)
	case patternAll:
		return true
	default:
		return false
	}
}

// Rule is a compiled rate-limit rule. Rules are created at startup and
// immutable thereafter.
type Rule struct {
	ID           string
	Name         string
	ErrorMessage string

	patterns []compiledPattern
	methods  map[string]struct{} // nil = all methods

	// Config is the limiter configuration attached to the rule.
	Config ratelimit.Config

	// Distributed reports whether the rule attempts the shared store.
	Distributed bool
}

// compileRule resolves a config.Rule into its matcher form.
func compileRule(spec config.Rule, log logger.Logger) (*Rule, error) {
	cfg := toLimiterConfig(spec.Config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rule := &Rule{
		ID:           spec.ID,
		Name:         spec.Name,
		ErrorMessage: spec.ErrorMessage,
		Config:       cfg,
		Distributed:  spec.Config.Distributed,
	}

	for _, raw := range spec.Paths {
		rule.patterns = append(rule.patterns, compilePattern(raw, log))
	}

	if len(spec.Methods) > 0 {
		rule.methods = make(map[string]struct{}, len(spec.Methods))
		for _, m := range spec.Methods {
			rule.methods[strings.ToUpper(m)] = struct{}{}
		}
	}

	return rule, nil
}

// Matches reports whether the rule applies to the given path and method.
func (r *Rule) Matches(requestPath, method string) bool {
	if r.methods != nil {
		if _, ok := r.methods[strings.ToUpper(method)]; !ok {
			return false
		}
	}
	for _, p := range r.patterns {
		if p.matches(requestPath) {
			return true
		}
	}
	return false
}
