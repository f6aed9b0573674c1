package policy

import (
	"context"

	"github.com/google/uuid"
)

// ActionKind names the operations the policy evaluator rules on.
type ActionKind string

const (
	// ActionGrantScopes asks whether scopes may be granted to a client
	// for a user.
	ActionGrantScopes ActionKind = "grant_scopes"
	// ActionRegisterClient asks whether a client registration is allowed.
	ActionRegisterClient ActionKind = "register_client"
	// ActionLinkUpstreamSubject asks whether an upstream subject may be
	// bound to a local user.
	ActionLinkUpstreamSubject ActionKind = "link_upstream_subject"
)

// Action is a proposed operation with its context.
type Action struct {
	Kind       ActionKind
	UserID     uuid.UUID
	ClientID   string
	Scopes     []string
	ProviderID string
	Subject    string
}

// Decision is the evaluator's verdict. Reasons are only set on deny.
type Decision struct {
	Allowed bool
	Reasons []string
}

// Allow is the unconditional positive decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a negative decision carrying the given reasons.
func Deny(reasons ...string) Decision {
	return Decision{Allowed: false, Reasons: reasons}
}

// Evaluator decides whether a proposed action is permitted. The grant
// engine and upstream link engine only consume this contract; the
// implementation behind it can be swapped without touching them.
type Evaluator interface {
	Evaluate(ctx context.Context, action Action) Decision
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, action Action) Decision

func (f EvaluatorFunc) Evaluate(ctx context.Context, action Action) Decision {
	return f(ctx, action)
}

// AllowAll permits every action. Useful as a default and in tests.
func AllowAll() Evaluator {
	return EvaluatorFunc(func(context.Context, Action) Decision {
		return Allow()
	})
}

// ScopeRules is a rule-based evaluator denying scope grants outside the
// per-client allow lists it was constructed with. Unknown clients are
// denied; other action kinds are allowed by default.
type ScopeRules struct {
	allowed map[string]map[string]bool
}

// NewScopeRules builds a ScopeRules evaluator from client id to allowed
// scope list.
func NewScopeRules(clientScopes map[string][]string) *ScopeRules {
	allowed := make(map[string]map[string]bool, len(clientScopes))
	for clientID, scopes := range clientScopes {
		set := make(map[string]bool, len(scopes))
		for _, scope := range scopes {
			set[scope] = true
		}
		allowed[clientID] = set
	}
	return &ScopeRules{allowed: allowed}
}

func (r *ScopeRules) Evaluate(_ context.Context, action Action) Decision {
	if action.Kind != ActionGrantScopes {
		return Allow()
	}

	set, ok := r.allowed[action.ClientID]
	if !ok {
		return Deny("client not covered by policy")
	}
	for _, scope := range action.Scopes {
		if !set[scope] {
			return Deny("scope not allowed for client: " + scope)
		}
	}
	return Allow()
}
