package engine

import (
	"testing"

	"github.com/tmsylvan/corrigo/internal/model"
)

// sub builds a minimal submission for keepSet tests. Slice order stands in
// for submission time: index 0 is the oldest.
func sub(id, status string, grade float64) *model.Submission {
	return &model.Submission{ID: id, Status: status, Grade: grade}
}

func TestEffectiveBound(t *testing.T) {
	tests := []struct {
		name               string
		taskBound, overrid int
		want               int
	}{
		{"no override", 5, 0, 5},
		{"no task bound", 0, 3, 3},
		{"override smaller", 5, 3, 3},
		{"task bound smaller", 2, 7, 2},
		{"both unlimited", 0, 0, 0},
		{"negative treated as unlimited", -1, 4, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := effectiveBound(tt.taskBound, tt.overrid); got != tt.want {
				t.Errorf("effectiveBound(%d, %d) = %d, want %d", tt.taskBound, tt.overrid, got, tt.want)
			}
		})
	}
}

func TestKeepSetLastPolicy(t *testing.T) {
	subs := []*model.Submission{
		sub("s1", model.StatusDone, 100),
		sub("s2", model.StatusDone, 50),
		sub("s3", model.StatusDone, 10),
	}

	keep := keepSet(model.RetainLast, subs, "", 2)
	if len(keep) != 2 {
		t.Fatalf("len(keep) = %d, want 2", len(keep))
	}
	if !keep["s2"] || !keep["s3"] {
		t.Errorf("keep = %v, want the two newest", keep)
	}
}

func TestKeepSetBestPolicyProtectsHighestGrade(t *testing.T) {
	subs := []*model.Submission{
		sub("best", model.StatusDone, 95),
		sub("mid", model.StatusDone, 60),
		sub("new", model.StatusDone, 40),
	}

	keep := keepSet(model.RetainBest, subs, "", 2)
	if !keep["best"] {
		t.Error("highest-graded submission not kept")
	}
	if !keep["new"] {
		t.Error("newest submission not kept")
	}
	if keep["mid"] {
		t.Error("middle submission kept, want evicted")
	}
}

func TestKeepSetBestPolicyTieGoesToOldest(t *testing.T) {
	subs := []*model.Submission{
		sub("older", model.StatusDone, 80),
		sub("newer", model.StatusDone, 80),
		sub("newest", model.StatusDone, 10),
	}

	keep := keepSet(model.RetainBest, subs, "", 2)
	if !keep["older"] {
		t.Error("earlier of two equal-grade submissions not protected")
	}
	if !keep["newest"] {
		t.Error("newest submission not kept")
	}
}

func TestKeepSetBestPolicyIgnoresErrored(t *testing.T) {
	subs := []*model.Submission{
		sub("errored", model.StatusError, 100),
		sub("graded", model.StatusDone, 20),
		sub("new", model.StatusDone, 5),
	}

	keep := keepSet(model.RetainBest, subs, "", 2)
	if !keep["graded"] {
		t.Error("only graded submission not protected as best")
	}
	if keep["errored"] {
		t.Error("errored submission kept over graded ones")
	}
}

func TestKeepSetPinnedPolicy(t *testing.T) {
	subs := []*model.Submission{
		sub("pinned", model.StatusDone, 10),
		sub("s2", model.StatusDone, 90),
		sub("s3", model.StatusDone, 80),
	}

	keep := keepSet(model.RetainPinned, subs, "pinned", 2)
	if !keep["pinned"] {
		t.Error("pinned submission not protected")
	}
	if !keep["s3"] {
		t.Error("newest submission not kept")
	}
	if keep["s2"] {
		t.Error("unpinned older submission kept, want evicted")
	}
}

func TestKeepSetProtectsWaiting(t *testing.T) {
	subs := []*model.Submission{
		sub("inflight", model.StatusWaiting, 0),
		sub("s2", model.StatusDone, 50),
		sub("s3", model.StatusDone, 60),
	}

	keep := keepSet(model.RetainLast, subs, "", 1)
	if !keep["inflight"] {
		t.Error("waiting submission not protected")
	}
}

func TestKeepSetProtectedExceedsBound(t *testing.T) {
	// The protected best plus a waiting submission may exceed the bound;
	// protection always wins.
	subs := []*model.Submission{
		sub("best", model.StatusDone, 100),
		sub("inflight", model.StatusWaiting, 0),
	}

	keep := keepSet(model.RetainBest, subs, "", 1)
	if !keep["best"] || !keep["inflight"] {
		t.Errorf("keep = %v, want both protected entries", keep)
	}
}
