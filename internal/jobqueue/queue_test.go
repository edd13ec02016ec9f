package jobqueue

import (
	"testing"

	"github.com/example/musicd/internal/rpcerr"
	"github.com/example/musicd/internal/types"
)

func req(priority types.Priority) types.GenerateRequest {
	return types.GenerateRequest{Prompt: "test", DurationSec: 10, Priority: priority}
}

func TestAdd_FIFOWithinPriority(t *testing.T) {
	q := New(10)

	j1, err := q.Add("t1", req(types.PriorityNormal))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	j2, err := q.Add("t2", req(types.PriorityNormal))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if j1.QueuePos != 0 || j2.QueuePos != 1 {
		t.Errorf("positions = %d,%d; want 0,1", j1.QueuePos, j2.QueuePos)
	}

	popped := q.PopNext()
	if popped.TrackID != "t1" {
		t.Errorf("PopNext() = %q; want t1", popped.TrackID)
	}
}

func TestAdd_HighPriorityJumpsAheadOfNormal(t *testing.T) {
	q := New(10)

	if _, err := q.Add("n1", req(types.PriorityNormal)); err != nil {
		t.Fatalf("Add n1: %v", err)
	}
	if _, err := q.Add("n2", req(types.PriorityNormal)); err != nil {
		t.Fatalf("Add n2: %v", err)
	}
	if _, err := q.Add("h1", req(types.PriorityHigh)); err != nil {
		t.Fatalf("Add h1: %v", err)
	}

	order := []string{}
	for q.Len() > 0 {
		order = append(order, q.PopNext().TrackID)
	}

	want := []string{"h1", "n1", "n2"}
	for i, id := range want {
		if order[i] != id {
			t.Errorf("order[%d] = %q; want %q (full order %v)", i, order[i], id, order)
		}
	}
}

func TestAdd_MultipleHighStayFIFOAmongThemselves(t *testing.T) {
	q := New(10)

	_, _ = q.Add("n1", req(types.PriorityNormal))
	_, _ = q.Add("h1", req(types.PriorityHigh))
	_, _ = q.Add("h2", req(types.PriorityHigh))

	order := []string{q.PopNext().TrackID, q.PopNext().TrackID, q.PopNext().TrackID}
	want := []string{"h1", "h2", "n1"}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v; want %v", order, want)
			break
		}
	}
}

func TestAdd_QueueFull(t *testing.T) {
	q := New(2)

	if _, err := q.Add("a", req(types.PriorityNormal)); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	if _, err := q.Add("b", req(types.PriorityNormal)); err != nil {
		t.Fatalf("Add b: %v", err)
	}

	_, err := q.Add("c", req(types.PriorityNormal))
	rpcErr, ok := err.(*rpcerr.Error)
	if !ok || rpcErr.Code != rpcerr.QueueFull {
		t.Fatalf("Add c error = %v; want QueueFull", err)
	}
}

func TestRemoveByTrackID(t *testing.T) {
	q := New(10)
	_, _ = q.Add("a", req(types.PriorityNormal))
	_, _ = q.Add("b", req(types.PriorityNormal))

	removed := q.RemoveByTrackID("a")
	if removed == nil || removed.TrackID != "a" {
		t.Fatalf("RemoveByTrackID(a) = %v", removed)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d; want 1", q.Len())
	}
	if q.RemoveByTrackID("missing") != nil {
		t.Error("RemoveByTrackID(missing) should be nil")
	}
}

func TestPopNext_Empty(t *testing.T) {
	q := New(10)
	if q.PopNext() != nil {
		t.Error("PopNext() on empty queue should be nil")
	}
}
