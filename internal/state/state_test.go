package state

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	return NewStore(logger)
}

func TestMergeEvent(t *testing.T) {
	s := newTestStore(t)

	s.MergeEvent(Member{ID: 42, FirstName: "Ada"}, "prefixed title")

	m, ok := s.Member("42")
	if !ok {
		t.Fatal("expected member 42 after merge")
	}
	if m.FirstName != "Ada" {
		t.Errorf("expected first name Ada, got %s", m.FirstName)
	}
	if s.Title() != "prefixed title" {
		t.Errorf("expected title to be adopted, got %q", s.Title())
	}

	// Last write wins per id; empty title leaves the stored one alone.
	s.MergeEvent(Member{ID: 42, FirstName: "Grace"}, "")
	m, _ = s.Member("42")
	if m.FirstName != "Grace" {
		t.Errorf("expected replacement record, got %s", m.FirstName)
	}
	if s.Title() != "prefixed title" {
		t.Errorf("title should not change on empty event title, got %q", s.Title())
	}
}

func TestApplyRefreshReplacesWholesale(t *testing.T) {
	s := newTestStore(t)
	s.MergeEvent(Member{ID: 1}, "old")

	s.ApplyRefresh("new", map[string]Member{
		"2": {ID: 2, Username: "two"},
	})

	if s.HasMember("1") {
		t.Error("refresh should drop members absent from the snapshot")
	}
	if !s.HasMember("2") {
		t.Error("refresh should add snapshot members")
	}
	if s.Title() != "new" {
		t.Errorf("expected title new, got %q", s.Title())
	}
}

func TestCommitTitleRevokesToken(t *testing.T) {
	s := newTestStore(t)
	s.MarkIssued("42", time.Now())

	s.CommitTitle("Prefix: Test Room", "42")

	if s.Title() != "Prefix: Test Room" {
		t.Errorf("expected committed title, got %q", s.Title())
	}
	if _, ok := s.IssuedAt("42"); ok {
		t.Error("commit should delete the issued-at entry")
	}
}

func TestExpireIssued(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	s.MarkIssued("old", now.Add(-20*time.Minute))
	s.MarkIssued("fresh", now)

	removed := s.ExpireIssued(now.Add(-10 * time.Minute))
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, ok := s.IssuedAt("old"); ok {
		t.Error("expired entry should be gone")
	}
	if _, ok := s.IssuedAt("fresh"); !ok {
		t.Error("fresh entry should survive")
	}
}

// TestSnapshotConsistency pairs each title with a matching member set
// and checks that concurrent readers never observe a torn combination.
func TestSnapshotConsistency(t *testing.T) {
	s := newTestStore(t)

	setA := map[string]Member{"1": {ID: 1, Username: "a"}}
	setB := map[string]Member{"2": {ID: 2, Username: "b"}}
	s.ApplyRefresh("A", setA)

	done := make(chan struct{})
	writerStopped := make(chan struct{})
	go func() {
		defer close(writerStopped)
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			if i%2 == 0 {
				s.ApplyRefresh("B", setB)
			} else {
				s.ApplyRefresh("A", setA)
			}
		}
	}()

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				title, members := s.Snapshot()
				switch title {
				case "A":
					if _, ok := members["1"]; !ok {
						t.Error("snapshot A without member 1")
						return
					}
				case "B":
					if _, ok := members["2"]; !ok {
						t.Error("snapshot B without member 2")
						return
					}
				default:
					t.Errorf("unexpected title %q", title)
					return
				}
			}
		}()
	}

	wg.Wait()
	close(done)
	<-writerStopped
}

func TestSaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	logger, _ := zap.NewDevelopment()

	s := NewStore(logger)
	s.ApplyRefresh("Prefix: Room", map[string]Member{
		"42": {ID: 42, FirstName: "Ada", Username: "ada"},
	})
	s.MarkIssued("42", time.Unix(1700000000, 0))
	s.SetOffset(123)

	if err := s.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path, logger)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Title() != "Prefix: Room" {
		t.Errorf("expected title to survive, got %q", loaded.Title())
	}
	if loaded.Offset() != 123 {
		t.Errorf("expected offset 123, got %d", loaded.Offset())
	}
	m, ok := loaded.Member("42")
	if !ok || m.Username != "ada" {
		t.Errorf("expected member 42 with username ada, got %+v ok=%v", m, ok)
	}
	issued, ok := loaded.IssuedAt("42")
	if !ok || issued.Unix() != 1700000000 {
		t.Errorf("expected issued-at to survive, got %v ok=%v", issued, ok)
	}

	// No stray temp file left behind.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not exist after save")
	}
}

func TestLoadMissingFile(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	s, err := Load(filepath.Join(t.TempDir(), "absent.json"), logger)
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if s.MemberCount() != 0 || s.Offset() != 0 {
		t.Error("missing file should yield an empty store")
	}
}
