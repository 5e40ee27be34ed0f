package midea

import (
	"errors"
	"fmt"
)

var (
	ErrRetriesExhausted   = errors.New("midea retry budget exhausted")
	ErrNoDefaultHomeGroup = errors.New("no home group is marked default")
	ErrAmbiguousHomeGroup = errors.New("more than one home group is marked default")
	ErrNotReady           = errors.New("midea cloud has not answered yet")
)

// Action is the recovery policy for a server error code.
type Action int

const (
	ActionRaise Action = iota
	ActionIgnore
	ActionReauthenticate
)

func (a Action) String() string {
	switch a {
	case ActionIgnore:
		return "ignore"
	case ActionReauthenticate:
		return "reauthenticate"
	default:
		return "raise"
	}
}

// Classifier maps cloud error codes to recovery actions. Unlisted codes raise.
type Classifier struct {
	actions map[int]Action
}

// DefaultClassifier returns the policy table the Midea cloud expects clients to follow.
func DefaultClassifier() Classifier {
	return Classifier{actions: map[int]Action{
		3176: ActionIgnore,         // async reply does not exist yet
		3106: ActionReauthenticate, // invalid session
		3004: ActionReauthenticate, // value is illegal
		9999: ActionReauthenticate, // system error
	}}
}

// With returns a copy of the table with code mapped to action.
func (c Classifier) With(code int, action Action) Classifier {
	actions := make(map[int]Action, len(c.actions)+1)
	for k, v := range c.actions {
		actions[k] = v
	}
	actions[code] = action
	return Classifier{actions: actions}
}

func (c Classifier) Classify(code int) Action {
	if action, ok := c.actions[code]; ok {
		return action
	}
	return ActionRaise
}

// ConstructionError means the client could not resolve the account login id.
type ConstructionError struct {
	Err error
}

func (e ConstructionError) Error() string {
	return fmt.Sprintf("midea client construction: %v", e.Err)
}

func (e ConstructionError) Unwrap() error {
	return e.Err
}

// AuthError carries a rejected login, a raise-classified code or an exhausted retry budget.
// The session is always absent after one is returned.
type AuthError struct {
	Endpoint string
	Code     int
	Msg      string
	Err      error
}

func (e AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("midea %s: %v (last error %d: %s)", e.Endpoint, e.Err, e.Code, e.Msg)
	}
	return fmt.Sprintf("midea api error %d on %s: %s", e.Code, e.Endpoint, e.Msg)
}

func (e AuthError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a response the client could not make sense of.
type ProtocolError struct {
	Endpoint string
	Err      error
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("midea %s: protocol error: %v", e.Endpoint, e.Err)
}

func (e ProtocolError) Unwrap() error {
	return e.Err
}

// NetworkError wraps transport failures, timeouts and local rate limiting.
// These are never retried by the client.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e NetworkError) Error() string {
	return fmt.Sprintf("midea %s: %v", e.Endpoint, e.Err)
}

func (e NetworkError) Unwrap() error {
	return e.Err
}
