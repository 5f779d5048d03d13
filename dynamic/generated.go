// Package dynamic implements the per-user registry of user-generated
// capabilities: LLM-authored code stored and versioned at runtime rather than
// fixed at build time. The registry owns the only cross-call shared mutable
// state in the engine, a per-user cache with an explicit invalidate-then-reread
// protocol around every mutation.
package dynamic

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// NamePrefix marks generated-capability identifiers. The dispatcher uses it to
// decide whether an unresolved identifier should be tried against the registry.
const NamePrefix = "user_"

// GeneratedCapability is one user-authored capability record. The registry is
// its owner; callers receive copies and must not expect mutations to stick.
//
// Version starts at 1 and increases by exactly 1 on every Fix or Rollback.
// PreviousCode always holds the code that was live immediately before the
// current one: a single-level undo, not a full history.
type GeneratedCapability struct {
	ID                 string         `json:"id"` // addressable identifier, "user_<slug>"
	UserID             string         `json:"user_id"`
	Name               string         `json:"name"` // bare slug
	DisplayName        string         `json:"display_name"`
	Description        string         `json:"description,omitempty"`
	Code               string         `json:"code"`
	Version            int            `json:"version"`
	PreviousCode       string         `json:"previous_code,omitempty"` // empty = no prior version
	RequiredSecretKeys []string       `json:"required_secret_keys,omitempty"`
	InputSchema        map[string]any `json:"input_schema,omitempty"`
	Enabled            bool           `json:"enabled"`
	UsageCount         int            `json:"usage_count"`
	LastError          string         `json:"last_error,omitempty"`
	LastErrorAt        time.Time      `json:"last_error_at,omitzero"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// clone returns a deep-enough copy for handing outside the registry lock.
func (g *GeneratedCapability) clone() *GeneratedCapability {
	cp := *g
	cp.RequiredSecretKeys = append([]string(nil), g.RequiredSecretKeys...)
	if g.InputSchema != nil {
		schema := make(map[string]any, len(g.InputSchema))
		for k, v := range g.InputSchema {
			schema[k] = v
		}
		cp.InputSchema = schema
	}
	return &cp
}

// IsGeneratedName reports whether id follows the generated-capability naming
// convention.
func IsGeneratedName(id string) bool {
	return strings.HasPrefix(id, NamePrefix) && len(id) > len(NamePrefix)
}

// NameForSlug builds the addressable identifier for a bare slug.
func NameForSlug(slug string) string { return NamePrefix + slug }

var slugRe = regexp.MustCompile(`[^a-z0-9_]+`)

// Slugify normalizes a display name into a capability slug.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "_")
	s = slugRe.ReplaceAllString(s, "")
	return strings.Trim(s, "_")
}

// entryPointRe accepts code that defines a run entry point (Go, Python or
// JavaScript flavored) or assigns to an output variable. It is a structural
// plausibility check, not a syntax check; the sandbox does the real parsing.
var entryPointRe = regexp.MustCompile(`(?m)^\s*(?:async\s+)?(?:func\s+run\s*\(|def\s+run\s*\(|function\s+run\s*\(|(?:const|let|var)\s+run\s*=|output\s*=)`)

// ValidateCode rejects code that is structurally implausible as a capability
// implementation. Fix and Rollback call it before mutating any state.
func ValidateCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("code is empty; define a run entry point or assign to 'output'")
	}
	if !entryPointRe.MatchString(code) {
		return fmt.Errorf("code does not define a run entry point or assign to 'output'; it would never produce a result")
	}
	return nil
}
