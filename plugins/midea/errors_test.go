package midea

import (
	"context"
	"errors"
	"testing"
)

func TestDefaultClassifier(t *testing.T) {
	c := DefaultClassifier()
	cases := map[int]Action{
		3176: ActionIgnore,
		3106: ActionReauthenticate,
		3004: ActionReauthenticate,
		9999: ActionReauthenticate,
		3101: ActionRaise,
		0:    ActionRaise,
	}
	for code, want := range cases {
		if got := c.Classify(code); got != want {
			t.Fatalf("Classify(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestClassifierWithCopies(t *testing.T) {
	base := DefaultClassifier()
	extended := base.With(3101, ActionIgnore).With(9999, ActionRaise)

	if extended.Classify(3101) != ActionIgnore {
		t.Fatalf("expected extended mapping for 3101")
	}
	if extended.Classify(9999) != ActionRaise {
		t.Fatalf("expected override for 9999")
	}
	if base.Classify(3101) != ActionRaise || base.Classify(9999) != ActionReauthenticate {
		t.Fatalf("With mutated the base table")
	}
}

func TestErrorsUnwrap(t *testing.T) {
	err := error(AuthError{Endpoint: "user/login", Code: 3106, Msg: "invalid session", Err: ErrRetriesExhausted})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("AuthError does not unwrap: %v", err)
	}

	wrapped := error(ConstructionError{Err: NetworkError{Endpoint: "user/login/id/get", Err: context.DeadlineExceeded}})
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Fatalf("ConstructionError does not unwrap: %v", wrapped)
	}
	var netErr NetworkError
	if !errors.As(wrapped, &netErr) || netErr.Endpoint != "user/login/id/get" {
		t.Fatalf("expected NetworkError in chain, got %v", wrapped)
	}

	protoErr := error(ProtocolError{Endpoint: "homegroup/list/get", Err: ErrNoDefaultHomeGroup})
	if !errors.Is(protoErr, ErrNoDefaultHomeGroup) {
		t.Fatalf("ProtocolError does not unwrap: %v", protoErr)
	}
}
