package onboarding

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"unicode"
)

// HandlerRequest carries the authenticated caller and the validated payload
// into a step handler.
type HandlerRequest struct {
	UserID    string
	SessionID string
	Input     any
}

// HandlerFunc executes a step's side effects. It runs at most once per
// successful completion call and its result is returned to the client verbatim.
type HandlerFunc func(ctx context.Context, req HandlerRequest) (any, error)

// Step is a declarative onboarding step definition. Definitions are immutable
// for the process lifetime once handed to NewRegistry.
type Step struct {
	// ID uniquely identifies the step, e.g. "createOrganization".
	ID string

	// Order positions the step in the flow; lower runs first. Ties keep
	// registration order.
	Order int

	// Required steps must be completed before the completion step is allowed.
	Required bool

	// Repeatable steps may be completed again after the first success.
	// The zero value rejects re-completion.
	Repeatable bool

	// NewInput returns a fresh payload struct to decode and validate the
	// request body into. Nil means the step takes no payload.
	NewInput func() any

	// Handler runs when the step is completed (never on skip).
	Handler HandlerFunc
}

// Registry holds the step definitions and their derived total order.
type Registry struct {
	steps      []Step
	order      []string // step IDs sorted by Order, ties in registration order
	completion string
	byID       map[string]int
	bySegment  map[string]string
}

// NewRegistry builds a registry from step definitions. completionStep names the
// step whose completion marks onboarding finished; it must be one of steps.
func NewRegistry(completionStep string, steps ...Step) (*Registry, error) {
	r := &Registry{
		steps:      make([]Step, 0, len(steps)),
		completion: completionStep,
		byID:       make(map[string]int, len(steps)),
		bySegment:  make(map[string]string, len(steps)),
	}

	for _, step := range steps {
		if step.ID == "" {
			return nil, fmt.Errorf("onboarding: step with empty id")
		}
		if step.Handler == nil {
			return nil, fmt.Errorf("onboarding: step %q has no handler", step.ID)
		}
		if _, dup := r.byID[step.ID]; dup {
			return nil, fmt.Errorf("onboarding: duplicate step id %q", step.ID)
		}

		seg := PathSegment(step.ID)
		if other, taken := r.bySegment[seg]; taken {
			return nil, fmt.Errorf("onboarding: steps %q and %q map to the same path segment %q", other, step.ID, seg)
		}

		r.byID[step.ID] = len(r.steps)
		r.bySegment[seg] = step.ID
		r.steps = append(r.steps, step)
	}

	if _, ok := r.byID[completionStep]; !ok {
		return nil, fmt.Errorf("onboarding: completion step %q is not registered", completionStep)
	}

	// Derive the total order once; SliceStable keeps registration order on ties.
	ordered := make([]Step, len(r.steps))
	copy(ordered, r.steps)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	r.order = make([]string, len(ordered))
	for i, step := range ordered {
		r.order[i] = step.ID
	}

	return r, nil
}

// CompletionStep returns the ID of the designated completion step.
func (r *Registry) CompletionStep() string {
	return r.completion
}

// Ordered returns step definitions sorted by Order, ties in registration order.
// Calling it twice yields identical sequences.
func (r *Registry) Ordered() []Step {
	out := make([]Step, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.steps[r.byID[id]])
	}
	return out
}

// StepOrder returns the ordered step IDs.
func (r *Registry) StepOrder() []string {
	return slices.Clone(r.order)
}

// ByID looks up a step definition.
func (r *Registry) ByID(id string) (Step, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Step{}, false
	}
	return r.steps[i], true
}

// BySegment resolves a kebab-case URL path segment back to its step definition.
func (r *Registry) BySegment(segment string) (Step, bool) {
	id, ok := r.bySegment[segment]
	if !ok {
		return Step{}, false
	}
	return r.steps[r.byID[id]], true
}

// Next returns the step ID immediately following currentID in the derived
// order, the first ID when currentID is empty, or "" when currentID is last
// or unknown.
func (r *Registry) Next(currentID string) string {
	if currentID == "" {
		if len(r.order) == 0 {
			return ""
		}
		return r.order[0]
	}
	i := slices.Index(r.order, currentID)
	if i == -1 || i == len(r.order)-1 {
		return ""
	}
	return r.order[i+1]
}

// FirstIncomplete returns the first step ID in order not present in completed,
// or "" when every step is present. Used to recompute the current step when it
// was not explicitly stored.
func (r *Registry) FirstIncomplete(completed []string) string {
	for _, id := range r.order {
		if !slices.Contains(completed, id) {
			return id
		}
	}
	return ""
}

// requiredIncomplete reports whether any required step other than exceptID is
// missing from completed.
func (r *Registry) requiredIncomplete(completed []string, exceptID string) bool {
	for _, step := range r.steps {
		if !step.Required || step.ID == exceptID {
			continue
		}
		if !slices.Contains(completed, step.ID) {
			return true
		}
	}
	return false
}

// PathSegment converts a camelCase step ID to its kebab-case URL form,
// e.g. "createOrganization" -> "create-organization".
func PathSegment(stepID string) string {
	var b strings.Builder
	b.Grow(len(stepID) + 4)
	for i, r := range stepID {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
