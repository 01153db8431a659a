package errs

import (
	"errors"
	"fmt"
	"testing"
)

var errTaskMissing = New(TaskNotFound, "task not found")

func TestIsMatchesByCode(t *testing.T) {
	err := Newf(TaskNotFound, "task %d not found", 42)
	if !errors.Is(err, errTaskMissing) {
		t.Fatalf("expected %v to match sentinel", err)
	}
	if errors.Is(err, New(WorkerMismatch, "")) {
		t.Fatal("different codes must not match")
	}
}

func TestWrapKeepsCauseReachable(t *testing.T) {
	cause := New(NoAvailableWorkers, "all workers at capacity")
	err := fmt.Errorf("sweep: %w", Wrap(FailedToAssign, "failed to assign a task", cause))

	if !errors.Is(err, cause) {
		t.Fatal("cause should be reachable through the wrap")
	}
	if got := OuterCode(err); got != FailedToAssign {
		t.Fatalf("OuterCode = %q, want %q", got, FailedToAssign)
	}
	if got := CodeOf(err); got != NoAvailableWorkers {
		t.Fatalf("CodeOf = %q, want %q", got, NoAvailableWorkers)
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if got := CodeOf(errors.New("boom")); got != "" {
		t.Fatalf("CodeOf = %q, want empty", got)
	}
	if got := CodeOf(nil); got != "" {
		t.Fatalf("CodeOf(nil) = %q, want empty", got)
	}
}

func TestErrorString(t *testing.T) {
	err := Wrap(FailedToUpdateStatus, "failed to update task status", errors.New("db down"))
	want := "FAILED_TO_UPDATE_STATUS: failed to update task status: db down"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
