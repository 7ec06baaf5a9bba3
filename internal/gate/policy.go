package gate

import (
	"fmt"
	"strings"
)

// Domain groups the failures a policy decides on.
type Domain string

const (
	DomainSession      Domain = "session"
	DomainOnboarding   Domain = "onboarding"
	DomainSubscription Domain = "subscription"
	DomainUnexpected   Domain = "unexpected"
)

// Policy says what the gate does when a check cannot be completed.
type Policy string

const (
	// PolicyOpen lets the request through.
	PolicyOpen Policy = "open"
	// PolicyClosed sends the request to sign-in.
	PolicyClosed Policy = "closed"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyOpen, PolicyClosed:
		return p, nil
	case "":
		return PolicyOpen, nil
	default:
		return "", fmt.Errorf("unknown gate policy %q", s)
	}
}

// Policies maps each domain to its policy. Missing domains are open.
type Policies map[Domain]Policy

func (p Policies) For(d Domain) Policy {
	if pol, ok := p[d]; ok && pol != "" {
		return pol
	}
	return PolicyOpen
}
