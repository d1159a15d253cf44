// Package planfile loads a Plan from YAML and computes its replay-key
// hash, the same canonicalize-then-hash shape internal/policy uses for
// policy documents (grounded on relia's internal/policy/loader.go).
package planfile

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/canon"
	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/pkg/types"
)

// LoadError is the 3xxx-range error a malformed plan document raises,
// fatal before any run is created (spec.md §7).
type LoadError struct {
	Code    int
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("plan load error %d: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("plan load error %d: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Cause }

func newLoadError(message string, cause error) *LoadError {
	return &LoadError{Code: 3001, Message: message, Cause: cause}
}

// LoadedPlan is a plan document together with the hash computed over its
// canonical-JSON form.
type LoadedPlan struct {
	Plan  types.Plan
	Hash  string
	Bytes []byte
}

// LoadPlan reads and parses a YAML plan document from path.
func LoadPlan(path string) (LoadedPlan, error) {
	// #nosec G304 -- path is operator-supplied as a CLI positional arg.
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadedPlan{}, newLoadError("reading plan file", err)
	}

	plan, err := ParsePlan(data)
	if err != nil {
		return LoadedPlan{}, err
	}

	hash, err := canon.Hash(plan.CanonicalView())
	if err != nil {
		return LoadedPlan{}, newLoadError("hashing plan", err)
	}

	return LoadedPlan{Plan: plan, Hash: hash, Bytes: data}, nil
}

// ParsePlan unmarshals and validates a YAML plan document.
func ParsePlan(data []byte) (types.Plan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var plan types.Plan
	if err := dec.Decode(&plan); err != nil {
		return types.Plan{}, newLoadError("parsing plan YAML", err)
	}

	if plan.Version == "" {
		return types.Plan{}, newLoadError("plan.version is required", nil)
	}
	if len(plan.Steps) == 0 {
		return types.Plan{}, newLoadError("plan.steps must be non-empty", nil)
	}
	for i, step := range plan.Steps {
		if step.Tool == "" {
			return types.Plan{}, newLoadError(fmt.Sprintf("step %d: tool is required", i), nil)
		}
	}

	return plan, nil
}
