package upstream

import "errors"

var (
	// ErrUnknownProvider is returned when a provider id is not configured.
	ErrUnknownProvider = errors.New("unknown_upstream_provider")

	// ErrUnknownState is returned for callbacks whose state does not
	// resolve to a live link. Expired and never-existed states get the
	// same answer so the callback endpoint cannot be used as an oracle.
	ErrUnknownState = errors.New("unknown_state")

	// ErrUpstreamProvider is returned when the provider itself failed
	// (exchange, verification). Terminal; not retried internally.
	ErrUpstreamProvider = errors.New("upstream_provider_error")

	// ErrSubjectAlreadyLinked is returned when the upstream subject is
	// already bound to another local account.
	ErrSubjectAlreadyLinked = errors.New("subject_already_linked")

	// ErrInvalidState is returned when a link is not in the status the
	// operation requires.
	ErrInvalidState = errors.New("invalid_link_state")

	// ErrPolicyDenied is returned when policy rejects the link.
	ErrPolicyDenied = errors.New("link_policy_denied")

	// ErrConflict is returned by the repository when a compare-and-set
	// transition matched no row.
	ErrConflict = errors.New("link_state_conflict")
)
