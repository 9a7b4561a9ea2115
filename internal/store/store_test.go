package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DeusData/tapaconv/internal/pipeline"
)

func TestOpenMemory(t *testing.T) {
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	s.Close()
}

func TestOpenPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	s, err := OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	defer s.Close()
	if s.Path() != path {
		t.Errorf("path = %s", s.Path())
	}
}

func sampleResult() *pipeline.Result {
	return &pipeline.Result{
		Top: "top",
		Functions: []pipeline.FunctionReport{
			{Name: "worker", Params: []pipeline.ParamReport{
				{Name: "a", Kind: "pointer", Pointee: "int"},
				{Name: "s", Kind: "channel", Element: "int", Direction: "input"},
			}},
			{Name: "top", Params: []pipeline.ParamReport{
				{Name: "s", Kind: "channel", Element: "int", Direction: "input"},
			}},
		},
		Stats:      pipeline.PropagateStats{LocalUpdates: 1, CallPasses: 1, CallUpdates: 1},
		InputHash:  "aa",
		OutputHash: "bb",
	}
}

func TestRecordAndListRuns(t *testing.T) {
	s, err := OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	run, channels := RunFromResult("k.cpp", time.Now(), sampleResult(), nil)
	if len(channels) != 2 {
		t.Fatalf("expected 2 channel records, got %d", len(channels))
	}
	id, err := s.RecordRun(run, channels)
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if id == 0 || run.ID != id {
		t.Fatalf("id = %d, run.ID = %d", id, run.ID)
	}

	failed, _ := RunFromResult("k.cpp", time.Now(), nil,
		&pipeline.StageError{Stage: pipeline.StagePropagate, Err: errors.New("boom")})
	if _, err := s.RecordRun(failed, nil); err != nil {
		t.Fatal(err)
	}
	other, _ := RunFromResult("other.cpp", time.Now(), sampleResult(), nil)
	if _, err := s.RecordRun(other, nil); err != nil {
		t.Fatal(err)
	}

	runs, err := s.ListRuns("k.cpp", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs for k.cpp, got %d", len(runs))
	}
	if runs[0].Status != StatusError || runs[0].Stage != pipeline.StagePropagate {
		t.Errorf("newest run = %+v", runs[0])
	}
	if runs[1].Top != "top" || runs[1].OutputHash != "bb" {
		t.Errorf("first run = %+v", runs[1])
	}
	if runs[1].Properties["call_passes"] != float64(1) {
		t.Errorf("properties = %v", runs[1].Properties)
	}

	all, err := s.ListRuns("", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Input != "other.cpp" {
		t.Errorf("limited list = %+v", all)
	}

	got, err := s.RunChannels(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Function != "top" || got[1].Direction != "input" {
		t.Errorf("channels = %+v", got)
	}

	last, err := s.LastSuccess("k.cpp")
	if err != nil || last == nil || last.ID != id {
		t.Errorf("LastSuccess = %+v, %v", last, err)
	}
}

func TestGetRunMissing(t *testing.T) {
	s, err := OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	r, err := s.GetRun(42)
	if err != nil || r != nil {
		t.Errorf("GetRun(42) = %v, %v", r, err)
	}
}

func TestPruneRunsCascades(t *testing.T) {
	s, err := OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var first int64
	for i := 0; i < 3; i++ {
		run, channels := RunFromResult("k.cpp", time.Now(), sampleResult(), nil)
		id, err := s.RecordRun(run, channels)
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			first = id
		}
	}
	n, err := s.PruneRuns(1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("pruned %d, want 2", n)
	}
	chs, err := s.RunChannels(first)
	if err != nil {
		t.Fatal(err)
	}
	if len(chs) != 0 {
		t.Errorf("channels of pruned run survived: %v", chs)
	}
}
