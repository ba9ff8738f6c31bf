package merger

import (
	"MediaMerger/internal/models"
	"MediaMerger/pkg/checkpoint"
	"MediaMerger/pkg/hashindex"
	"MediaMerger/pkg/hasher"
	"MediaMerger/pkg/logger"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
)

const (
	bestName = "20230101_120000_ab12.jpg"
	copyName = "20230101_120000_ab12 (1).jpg"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && e.Name() != lockFileName {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}

func openIndex(t *testing.T) *hashindex.Index {
	t.Helper()
	x, err := hashindex.Open(filepath.Join(t.TempDir(), "idx.db"), logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = x.Close() })
	return x
}

type fixture struct {
	root      string
	imageDest string
	videoDest string
}

func newFixture(t *testing.T) fixture {
	root := t.TempDir()
	return fixture{
		root:      root,
		imageDest: filepath.Join(root, "dest", "images"),
		videoDest: filepath.Join(root, "dest", "videos"),
	}
}

func (f fixture) src(name string) string {
	return filepath.Join(f.root, "sources", name)
}

func (f fixture) options(sources ...string) Options {
	return Options{Sources: sources, ImageDest: f.imageDest, VideoDest: f.videoDest, Workers: 4}
}

var resolverKinds = []string{"index", "scan"}

func newTestEngine(t *testing.T, kind string) (*Engine, *hashindex.Index) {
	t.Helper()
	idx := openIndex(t)
	var resolver ConflictResolver
	if kind == "scan" {
		resolver = NewDirectoryScanResolver(logger.Discard())
	}
	return newEngine(logger.DiscardModule(), idx, resolver), idx
}

func TestMergeScenarioOneEitherOrder(t *testing.T) {
	for _, kind := range resolverKinds {
		for _, reversed := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/reversed=%v", kind, reversed), func(t *testing.T) {
				f := newFixture(t)
				writeFile(t, filepath.Join(f.src("a"), "album", bestName), "same-bytes")
				writeFile(t, filepath.Join(f.src("b"), "album", copyName), "same-bytes")

				sources := []string{f.src("a"), f.src("b")}
				if reversed {
					sources = []string{f.src("b"), f.src("a")}
				}
				e, idx := newTestEngine(t, kind)
				opts := f.options(sources...)
				opts.Workers = 1
				sum, err := e.MergeSources(context.Background(), opts)
				if err != nil {
					t.Fatalf("MergeSources: %v", err)
				}

				albumDir := filepath.Join(f.imageDest, "album")
				if got := listDir(t, albumDir); len(got) != 1 || got[0] != bestName {
					t.Fatalf("album contains %v, want only %s", got, bestName)
				}
				digest, _ := hasher.ContentDigest(filepath.Join(albumDir, bestName))
				entries, _ := idx.ByDigest(context.Background(), digest)
				if len(entries) != 1 || entries[0].Path != filepath.Join(albumDir, bestName) {
					t.Fatalf("index entries = %+v", entries)
				}
				if sum.Processed != 2 || sum.Errored != 0 {
					t.Fatalf("summary = %+v", sum)
				}
				if reversed && (sum.Replaced != 1 || sum.Deleted != 1) {
					t.Fatalf("reversed summary = %+v", sum)
				}
				if !reversed && (sum.Copied != 1 || sum.Skipped != 1 || sum.Deleted != 0) {
					t.Fatalf("summary = %+v", sum)
				}
			})
		}
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	for _, kind := range resolverKinds {
		t.Run(kind, func(t *testing.T) {
			f := newFixture(t)
			writeFile(t, filepath.Join(f.src("a"), "x", bestName), "one")
			writeFile(t, filepath.Join(f.src("a"), "x", "holiday.jpg"), "two")
			writeFile(t, filepath.Join(f.src("b"), "x", copyName), "one")
			writeFile(t, filepath.Join(f.src("b"), "y", "clip.mp4"), "three")

			e, _ := newTestEngine(t, kind)
			opts := f.options(f.src("a"), f.src("b"))
			first, err := e.MergeSources(context.Background(), opts)
			if err != nil {
				t.Fatal(err)
			}
			if first.Copied+first.Replaced == 0 {
				t.Fatalf("first run copied nothing: %+v", first)
			}

			second, err := e.MergeSources(context.Background(), opts)
			if err != nil {
				t.Fatal(err)
			}
			if second.Copied != 0 || second.Replaced != 0 || second.Deleted != 0 {
				t.Fatalf("second run changed the destination: %+v", second)
			}
			if second.Skipped != 4 {
				t.Fatalf("second run skipped %d, want 4", second.Skipped)
			}
		})
	}
}

func TestMergeRoutesVideos(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.src("a"), "trip", "clip.MP4"), "video")
	writeFile(t, filepath.Join(f.src("a"), "trip", "pic.jpg"), "image")
	writeFile(t, filepath.Join(f.src("a"), "trip", "notes.txt"), "ignored")

	e, _ := newTestEngine(t, "index")
	if _, err := e.MergeSources(context.Background(), f.options(f.src("a"))); err != nil {
		t.Fatal(err)
	}
	if got := listDir(t, filepath.Join(f.videoDest, "trip")); len(got) != 1 || got[0] != "clip.MP4" {
		t.Fatalf("video dest = %v", got)
	}
	if got := listDir(t, filepath.Join(f.imageDest, "trip")); len(got) != 1 || got[0] != "pic.jpg" {
		t.Fatalf("image dest = %v", got)
	}
}

func TestMergePreservesModTime(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(f.src("a"), "p.jpg")
	writeFile(t, src, "data")
	mtime := time.Date(2020, 3, 4, 5, 6, 7, 0, time.UTC)
	_ = os.Chtimes(src, mtime, mtime)

	e, _ := newTestEngine(t, "scan")
	if _, err := e.MergeSources(context.Background(), f.options(f.src("a"))); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(f.imageDest, "p.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(mtime) {
		t.Fatalf("mtime = %v", info.ModTime())
	}
}

func TestMergeSameNameDifferentContent(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.imageDest, "d", "holiday.jpg"), "original")
	writeFile(t, filepath.Join(f.src("a"), "d", "holiday.jpg"), "different")

	e, _ := newTestEngine(t, "scan")
	sum, err := e.MergeSources(context.Background(), f.options(f.src("a")))
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(f.imageDest, "d", "holiday.jpg"))
	if string(data) != "original" {
		t.Fatalf("equal-priority file was overwritten: %q", data)
	}
	if sum.Skipped != 1 || sum.Replaced != 0 || sum.Deleted != 0 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestMergeScenarioFourResumeWithoutCheckpoint(t *testing.T) {
	for _, kind := range resolverKinds {
		t.Run(kind, func(t *testing.T) {
			f := newFixture(t)
			src := f.src("a")
			for i := 0; i < 100; i++ {
				writeFile(t, filepath.Join(src, "batch", fmt.Sprintf("img_%03d.jpg", i)), fmt.Sprintf("content-%d", i))
			}
			// 模拟中断：前 37 个文件已经到达目标目录，但断点尚未保存
			for i := 0; i < 37; i++ {
				name := fmt.Sprintf("img_%03d.jpg", i)
				writeFile(t, filepath.Join(f.imageDest, "batch", name), fmt.Sprintf("content-%d", i))
			}
			cp := filepath.Join(f.root, "progress.json")

			e, _ := newTestEngine(t, kind)
			opts := f.options(src)
			opts.CheckpointPath = cp
			opts.CheckpointEvery = 50
			opts.Resume = true
			opts.RebuildIndex = kind == "index"
			sum, err := e.MergeSources(context.Background(), opts)
			if err != nil {
				t.Fatal(err)
			}
			if sum.Copied != 63 || sum.Skipped != 37 || sum.Deleted != 0 {
				t.Fatalf("summary = %+v", sum)
			}
			if got := listDir(t, filepath.Join(f.imageDest, "batch")); len(got) != 100 {
				t.Fatalf("destination has %d files", len(got))
			}
			if got := checkpoint.Load(cp, logger.Discard()); len(got) != 100 {
				t.Fatalf("checkpoint has %d entries", len(got))
			}

			again, err := e.MergeSources(context.Background(), opts)
			if err != nil {
				t.Fatal(err)
			}
			if again.AlreadyDone != 100 || again.Processed != 0 {
				t.Fatalf("resumed summary = %+v", again)
			}
		})
	}
}

func TestMergeResumeSkipsCheckpointedFiles(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.src("a"), "1.jpg"), "1")
	writeFile(t, filepath.Join(f.src("a"), "2.jpg"), "2")
	cp := filepath.Join(f.root, "progress.json")
	done, _ := filepath.Abs(filepath.Join(f.src("a"), "1.jpg"))
	if err := checkpoint.Save(cp, map[string]struct{}{done: {}}); err != nil {
		t.Fatal(err)
	}

	e, _ := newTestEngine(t, "index")
	opts := f.options(f.src("a"))
	opts.CheckpointPath = cp
	opts.Resume = true
	sum, err := e.MergeSources(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if sum.AlreadyDone != 1 || sum.Copied != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if got := listDir(t, f.imageDest); len(got) != 1 || got[0] != "2.jpg" {
		t.Fatalf("destination = %v", got)
	}
}

func TestMergeConcurrentDuplicates(t *testing.T) {
	for _, kind := range resolverKinds {
		t.Run(kind, func(t *testing.T) {
			f := newFixture(t)
			var sources []string
			for i := 0; i < 16; i++ {
				name := fmt.Sprintf("photo (%d).jpg", i+1)
				switch i {
				case 5:
					name = bestName
				case 9:
					name = "photo.jpg"
				}
				src := f.src(fmt.Sprintf("s%02d", i))
				writeFile(t, filepath.Join(src, "shared", name), "identical")
				sources = append(sources, src)
			}
			e, idx := newTestEngine(t, kind)
			opts := f.options(sources...)
			opts.Workers = 8
			sum, err := e.MergeSources(context.Background(), opts)
			if err != nil {
				t.Fatal(err)
			}
			if got := listDir(t, filepath.Join(f.imageDest, "shared")); len(got) != 1 || got[0] != bestName {
				t.Fatalf("shared dir = %v", got)
			}
			digest, _ := hasher.ContentDigest(filepath.Join(f.imageDest, "shared", bestName))
			if entries, _ := idx.ByDigest(context.Background(), digest); len(entries) != 1 {
				t.Fatalf("index entries = %+v", entries)
			}
			if sum.Processed != 16 || sum.Errored != 0 {
				t.Fatalf("summary = %+v", sum)
			}
			if e.locks.size() != 0 {
				t.Fatalf("directory locks leaked: %d", e.locks.size())
			}
		})
	}
}

func TestMergeMissingSourceRootIsNotFatal(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.src("ok"), "a.jpg"), "a")
	missing := f.src("missing")

	e, _ := newTestEngine(t, "index")
	sum, err := e.MergeSources(context.Background(), f.options(missing, f.src("ok")))
	if err != nil {
		t.Fatalf("MergeSources: %v", err)
	}
	if len(sum.FailedRoots) != 1 || sum.FailedRoots[0] != missing {
		t.Fatalf("failed roots = %v", sum.FailedRoots)
	}
	if sum.Copied != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestMergeCancelledBeforeStart(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.src("a"), "a.jpg"), "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e, _ := newTestEngine(t, "index")
	sum, err := e.MergeSources(ctx, f.options(f.src("a")))
	if err != nil {
		t.Fatalf("cancellation must not be an error: %v", err)
	}
	if !sum.Cancelled || sum.Processed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestMergeCancelledMidRunFinishesInFlight(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 200; i++ {
		writeFile(t, filepath.Join(f.src("a"), fmt.Sprintf("d%02d", i%10), fmt.Sprintf("%03d.jpg", i)), fmt.Sprint(i))
	}
	cp := filepath.Join(f.root, "progress.json")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, _ := newTestEngine(t, "index")
	opts := f.options(f.src("a"))
	opts.CheckpointPath = cp
	opts.Workers = 2
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	sum, err := e.MergeSources(ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	// 每个已处理的文件都在断点中，且没有残留临时文件
	saved := checkpoint.Load(cp, logger.Discard())
	if len(saved) != sum.Processed {
		t.Fatalf("checkpoint has %d entries, processed %d", len(saved), sum.Processed)
	}
	_ = filepath.WalkDir(f.imageDest, func(path string, d os.DirEntry, err error) error {
		if err == nil && strings.Contains(d.Name(), ".tmp-") {
			t.Fatalf("leftover temp file %s", path)
		}
		return nil
	})

	resumed := f.options(f.src("a"))
	resumed.CheckpointPath = cp
	resumed.Resume = true
	rest, err := e.MergeSources(context.Background(), resumed)
	if err != nil {
		t.Fatal(err)
	}
	if rest.AlreadyDone+rest.Processed != 200 || rest.Deleted != 0 {
		t.Fatalf("resumed summary = %+v", rest)
	}
}

func TestMergeDestinationLocked(t *testing.T) {
	f := newFixture(t)
	if err := os.MkdirAll(f.imageDest, 0o755); err != nil {
		t.Fatal(err)
	}
	held := flock.New(filepath.Join(f.imageDest, lockFileName))
	ok, err := held.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	defer held.Unlock()

	e, _ := newTestEngine(t, "index")
	if _, err := e.MergeSources(context.Background(), f.options(f.src("a"))); !errors.Is(err, ErrDestinationLocked) {
		t.Fatalf("err = %v, want ErrDestinationLocked", err)
	}
}

func TestMergeRequiresDestinations(t *testing.T) {
	e, _ := newTestEngine(t, "index")
	if _, err := e.MergeSources(context.Background(), Options{Sources: []string{"/x"}}); err == nil {
		t.Fatal("expected setup error")
	}
}

func TestIndexResolverPrunesStaleEntries(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.src("a"), "k", "holiday.jpg"), "payload")
	e, idx := newTestEngine(t, "index")

	digest, _ := hasher.ContentDigest(filepath.Join(f.src("a"), "k", "holiday.jpg"))
	stale := filepath.Join(f.imageDest, "k", "20230101_120000_gone.jpg")
	_ = idx.Add(context.Background(), models.HashIndexEntry{Path: stale, Digest: digest, ModTime: time.Now(), Priority: 1})

	sum, err := e.MergeSources(context.Background(), f.options(f.src("a")))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Copied != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if ok, _ := idx.Exists(context.Background(), stale); ok {
		t.Fatal("stale index entry was not pruned")
	}
}

func TestMergeFindsUnindexedDuplicateInDestination(t *testing.T) {
	for _, kind := range resolverKinds {
		t.Run(kind, func(t *testing.T) {
			f := newFixture(t)
			writeFile(t, filepath.Join(f.imageDest, "k", copyName), "same")
			writeFile(t, filepath.Join(f.src("a"), "k", bestName), "same")
			e, _ := newTestEngine(t, kind)

			sum, err := e.MergeSources(context.Background(), f.options(f.src("a")))
			if err != nil {
				t.Fatal(err)
			}
			if sum.Replaced != 1 || sum.Deleted != 1 || sum.Copied != 0 {
				t.Fatalf("summary = %+v", sum)
			}
			if got := listDir(t, filepath.Join(f.imageDest, "k")); len(got) != 1 || got[0] != bestName {
				t.Fatalf("dest = %v", got)
			}
		})
	}
}

func TestIndexResolverRehashesChangedFiles(t *testing.T) {
	f := newFixture(t)
	existing := filepath.Join(f.imageDest, "k", copyName)
	writeFile(t, existing, "same")
	writeFile(t, filepath.Join(f.src("a"), "k", bestName), "same")
	e, idx := newTestEngine(t, "index")
	old := models.HashIndexEntry{Path: existing, Digest: "outdated", Size: 1, ModTime: time.Unix(0, 0), Priority: 2}
	if err := idx.Add(context.Background(), old); err != nil {
		t.Fatal(err)
	}

	sum, err := e.MergeSources(context.Background(), f.options(f.src("a")))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Replaced != 1 || sum.Deleted != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if ok, _ := idx.Exists(context.Background(), existing); ok {
		t.Fatal("replaced file still indexed")
	}
}

func TestIndexResolverReconcilesAgainOnNextRun(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.src("a"), "k", "other.jpg"), "other")
	e, _ := newTestEngine(t, "index")
	if _, err := e.MergeSources(context.Background(), f.options(f.src("a"))); err != nil {
		t.Fatal(err)
	}

	// 两次运行之间有文件被直接放进目标目录
	writeFile(t, filepath.Join(f.imageDest, "k", copyName), "same")
	writeFile(t, filepath.Join(f.src("b"), "k", bestName), "same")
	sum, err := e.MergeSources(context.Background(), f.options(f.src("b")))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Replaced != 1 || sum.Deleted != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	want := []string{bestName, "other.jpg"}
	if got := listDir(t, filepath.Join(f.imageDest, "k")); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("dest = %v, want %v", got, want)
	}
}

func TestMergeCancelledDuringIndexRebuild(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.imageDest, "k", "kept.jpg"), "kept")
	writeFile(t, filepath.Join(f.src("a"), "k", "a.jpg"), "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e, _ := newTestEngine(t, "index")
	opts := f.options(f.src("a"))
	opts.RebuildIndex = true
	sum, err := e.MergeSources(ctx, opts)
	if err != nil {
		t.Fatalf("cancellation must not be an error: %v", err)
	}
	if !sum.Cancelled || sum.Processed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if _, err := os.Stat(filepath.Join(f.imageDest, "k", "a.jpg")); !os.IsNotExist(err) {
		t.Fatalf("file copied after cancellation: %v", err)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDeletionsAreLoggedAtWarn(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.src("b"), copyName), "same")
	writeFile(t, filepath.Join(f.src("a"), bestName), "same")

	var out syncBuffer
	ml := &logger.ModuleLogger{Logger: slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelWarn}))}
	e := newEngine(ml, nil, nil)
	opts := f.options(f.src("b"), f.src("a"))
	opts.Workers = 1
	if _, err := e.MergeSources(context.Background(), opts); err != nil {
		t.Fatal(err)
	}
	text := out.String()
	if !strings.Contains(text, "level=WARN") || !strings.Contains(text, copyName) || !strings.Contains(text, f.src("a")) {
		t.Fatalf("deletion not logged with source and destination:\n%s", text)
	}
}

func TestDirLocksExclusive(t *testing.T) {
	locks := newDirLocks()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("/dst/dir")
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("%d goroutines held the same directory lock", maxSeen)
	}
	if locks.size() != 0 {
		t.Fatalf("locks not released: %d", locks.size())
	}
}
