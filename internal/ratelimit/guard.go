package ratelimit

import "fmt"

// Scope names which budget rejected a command.
type Scope string

const (
	ScopeNone  Scope = ""
	ScopeActor Scope = "actor"
	ScopeGroup Scope = "group"
)

// Verdict is the combined actor+group decision for one command.
type Verdict struct {
	Decision
	Scope Scope
}

// Guard combines an actor limiter and a group limiter for interactive
// commands. The actor is checked first; a saturated actor does not consume
// group budget.
type Guard struct {
	Actor Checker
	Group Checker
}

func NewGuard(actor, group Checker) *Guard {
	return &Guard{Actor: actor, Group: group}
}

// Check evaluates a command from actor in group. An empty group (private
// chat) only consults the actor budget.
func (g *Guard) Check(actor, group string) Verdict {
	if g.Actor != nil {
		if d := g.Actor.Check(actor); !d.Allowed {
			return Verdict{Decision: d, Scope: ScopeActor}
		}
	}
	if g.Group != nil && group != "" {
		if d := g.Group.Check(group); !d.Allowed {
			return Verdict{Decision: d, Scope: ScopeGroup}
		}
	}
	return Verdict{Decision: Decision{Allowed: true}}
}

// Message is the user-facing rejection text.
func (v Verdict) Message() string {
	secs := v.RetryAfterSeconds()
	switch v.Scope {
	case ScopeActor:
		return fmt.Sprintf("You're using commands too quickly. Try again in %ds.", secs)
	case ScopeGroup:
		return fmt.Sprintf("This group is using commands too quickly. Try again in %ds.", secs)
	default:
		return ""
	}
}
