package narrative_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/phantomstate/phantomstate/pkg/narrative"
)

func TestErrorIs(t *testing.T) {
	t.Parallel()

	err := narrative.Errorf(narrative.KindUnknownMoment, "moment not found: m9")
	if !errors.Is(err, narrative.ErrUnknownMoment) {
		t.Fatal("Errorf result should match its kind sentinel")
	}
	if errors.Is(err, narrative.ErrUnknownTake) {
		t.Fatal("kinds must not cross-match")
	}

	t.Run("survives wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("query state: %w", err)
		if !errors.Is(wrapped, narrative.ErrUnknownMoment) {
			t.Fatal("wrapped error should still match its kind sentinel")
		}
	})
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	err := narrative.Errorf(narrative.KindDuplicateSequence, "sequence 3 already used by moment m3")
	if !strings.Contains(err.Error(), "DuplicateSequence") {
		t.Fatalf("Error() should carry the kind: %q", err.Error())
	}
	if !strings.Contains(err.Error(), "m3") {
		t.Fatalf("Error() should carry the offending value: %q", err.Error())
	}
}

func TestWrapError(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk full")
	err := narrative.WrapError(narrative.KindStorageError, cause, "insert fact")
	if !errors.Is(err, cause) {
		t.Fatal("WrapError should preserve the cause for errors.Is")
	}
	if !errors.Is(err, narrative.ErrStorageError) {
		t.Fatal("WrapError should match its kind sentinel")
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want narrative.ErrorKind
	}{
		{"nil", nil, ""},
		{"engine error", narrative.Errorf(narrative.KindInvalidEnum, "bad status"), narrative.KindInvalidEnum},
		{"wrapped engine error", fmt.Errorf("op: %w", narrative.Errorf(narrative.KindUnknownFact, "fact 9")), narrative.KindUnknownFact},
		{"foreign error", errors.New("i/o timeout"), narrative.KindStorageError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := narrative.KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf: got %q, want %q", got, tt.want)
			}
		})
	}
}
