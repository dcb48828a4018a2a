package event_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/event"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/id"
)

func TestRecorder_PreservesOrder(t *testing.T) {
	rec := &event.Recorder{}
	wfID := id.NewWorkflowID()
	ctx := context.Background()

	rec.Emit(ctx, event.New(event.WorkflowStarted, wfID))
	rec.Emit(ctx, event.NewTask(event.TaskQueued, wfID, "a", 0))
	rec.Emit(ctx, event.NewTask(event.TaskStarted, wfID, "a", 1))
	rec.Emit(ctx, event.NewTask(event.TaskSucceeded, wfID, "a", 1))
	rec.Emit(ctx, event.New(event.WorkflowCompleted, wfID))

	want := []event.Type{
		event.WorkflowStarted, event.TaskQueued, event.TaskStarted,
		event.TaskSucceeded, event.WorkflowCompleted,
	}
	got := rec.Types()
	if len(got) != len(want) {
		t.Fatalf("Types() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Types()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSlogSink_LogsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	sink := event.NewSlogSink(logger)

	wfID := id.NewWorkflowID()
	e := event.NewTask(event.TaskFailed, wfID, "charge", 2).WithError("timeout")
	sink.Emit(context.Background(), e)

	out := buf.String()
	for _, want := range []string{"task.failed", "charge", "attempt=2", "timeout", "level=WARN"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestMulti_FansOut(t *testing.T) {
	a, b := &event.Recorder{}, &event.Recorder{}
	sink := event.Multi(a, b)

	sink.Emit(context.Background(), event.New(event.WorkflowStarted, id.NewWorkflowID()))

	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Errorf("fan-out delivered %d/%d events, want 1/1", len(a.Events()), len(b.Events()))
	}
}
