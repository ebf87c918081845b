package model

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusDownloading, true},
		{StatusPending, StatusCompleted, false},
		{StatusDownloading, StatusProcessing, true},
		{StatusDownloading, StatusCancelled, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusDownloading, false},
		{StatusCompleted, StatusPending, false},
		{StatusCancelled, StatusDownloading, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTaskValidateCompletedRequiresOutput(t *testing.T) {
	task := Task{Status: StatusCompleted, Percent: 100}
	if err := task.Validate(); err == nil {
		t.Fatal("expected error for completed task without output path")
	}

	task.OutputPath = "/data/abc.mp4"
	task.OutputSize = 1024
	if err := task.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTaskValidatePercentCompletedMismatch(t *testing.T) {
	task := Task{Status: StatusDownloading, Percent: 100}
	if err := task.Validate(); err == nil {
		t.Fatal("expected error when percent=100 but status is not completed")
	}
}

func TestTaskSetErrorTruncates(t *testing.T) {
	task := Task{}
	long := make([]byte, maxErrorMessageLen+50)
	for i := range long {
		long[i] = 'x'
	}
	task.SetError(string(long))
	if len(task.ErrorMessage) != maxErrorMessageLen {
		t.Fatalf("expected truncation to %d bytes, got %d", maxErrorMessageLen, len(task.ErrorMessage))
	}
}
