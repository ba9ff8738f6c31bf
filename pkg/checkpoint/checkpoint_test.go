package checkpoint

import (
	"MediaMerger/internal/models"
	"MediaMerger/pkg/logger"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	set := map[string]struct{}{"/a/1.jpg": {}, "/b/2.mp4": {}, "/c/사진.jpg": {}}
	if err := Save(path, set); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got := Load(path, logger.Discard())
	if len(got) != len(set) {
		t.Fatalf("loaded %d entries, want %d", len(got), len(set))
	}
	for p := range set {
		if _, ok := got[p]; !ok {
			t.Fatalf("missing %s", p)
		}
	}

	data, _ := os.ReadFile(path)
	var state models.ProgressState
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatal(err)
	}
	if _, err := time.Parse(time.RFC3339Nano, state.Timestamp); err != nil {
		t.Fatalf("timestamp %q is not ISO-8601: %v", state.Timestamp, err)
	}
}

func TestLoadMissingOrCorrupt(t *testing.T) {
	dir := t.TempDir()
	if got := Load(filepath.Join(dir, "none.json"), logger.Discard()); len(got) != 0 {
		t.Fatalf("missing file gave %v", got)
	}
	bad := filepath.Join(dir, "bad.json")
	_ = os.WriteFile(bad, []byte("{not json"), 0o644)
	if got := Load(bad, logger.Discard()); len(got) != 0 {
		t.Fatalf("corrupt file gave %v", got)
	}
}

func TestLoadAcceptsForeignTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")
	body := `{"timestamp": "2024-03-01T10:11:12.123456", "processed_files": ["/x.jpg"]}`
	_ = os.WriteFile(path, []byte(body), 0o644)
	if got := Load(path, logger.Discard()); len(got) != 1 {
		t.Fatalf("got %v", got)
	}
}

func TestTrackerFlushesEveryN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")
	tr := NewTracker(path, 3, true, logger.Discard())
	for i := 0; i < 2; i++ {
		if err := tr.Mark(fmt.Sprintf("/f%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("checkpoint written before interval")
	}
	_ = tr.Mark("/f2")
	if got := Load(path, logger.Discard()); len(got) != 3 {
		t.Fatalf("after interval: %d entries", len(got))
	}
	_ = tr.Mark("/f3")
	if err := tr.Flush(); err != nil {
		t.Fatal(err)
	}
	if got := Load(path, logger.Discard()); len(got) != 4 {
		t.Fatalf("after final flush: %d entries", len(got))
	}
}

func TestTrackerResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")
	_ = Save(path, map[string]struct{}{"/done.jpg": {}})

	resumed := NewTracker(path, 10, true, logger.Discard())
	if !resumed.Done("/done.jpg") || resumed.Len() != 1 {
		t.Fatal("resume did not load the checkpoint")
	}
	fresh := NewTracker(path, 10, false, logger.Discard())
	if fresh.Done("/done.jpg") {
		t.Fatal("resume=false must ignore the checkpoint")
	}
}

func TestTrackerConcurrentMarks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")
	tr := NewTracker(path, 7, false, logger.Discard())
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = tr.Mark(fmt.Sprintf("/w%d/%d", w, i))
			}
		}(w)
	}
	wg.Wait()
	if err := tr.Flush(); err != nil {
		t.Fatal(err)
	}
	if got := Load(path, logger.Discard()); len(got) != 400 {
		t.Fatalf("final checkpoint has %d entries, want 400", len(got))
	}
}

func TestTrackerWithoutPath(t *testing.T) {
	tr := NewTracker("", 1, true, logger.Discard())
	if err := tr.Mark("/a"); err != nil {
		t.Fatal(err)
	}
	if !tr.Done("/a") {
		t.Fatal("in-memory tracking failed")
	}
}
