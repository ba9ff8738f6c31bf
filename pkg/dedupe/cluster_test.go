package dedupe

import (
	"MediaMerger/internal/models"
	"math/rand"
	"sort"
	"strings"
	"testing"
)

func img(name, dhash, phash string) models.MediaRecord {
	h := map[models.HashChannel]string{}
	if dhash != "" {
		h[models.ChannelDHash] = dhash
	}
	if phash != "" {
		h[models.ChannelPHash] = phash
	}
	return models.MediaRecord{
		Path:      "/src/dir/" + name,
		FileName:  name,
		Directory: "/src/dir",
		Kind:      models.KindImage,
		Hashes:    h,
	}
}

func names(c []models.MediaRecord) []string {
	out := make([]string, len(c))
	for i, r := range c {
		out[i] = r.FileName
	}
	return out
}

// canonical 把簇集合转换为与顺序无关的形式。
func canonical(clusters [][]models.MediaRecord) []string {
	var out []string
	for _, c := range clusters {
		n := names(c)
		sort.Strings(n)
		out = append(out, strings.Join(n, ","))
	}
	sort.Strings(out)
	return out
}

func TestHamming(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abcd", "abcd", 0},
		{"abcd", "abce", 1},
		{"abcd", "ab", 0},
		{"ffff", "0000", 4},
		{"ab", "ba12", 2},
	}
	for _, tt := range tests {
		if got := Hamming(tt.a, tt.b); got != tt.want {
			t.Errorf("Hamming(%q,%q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if Hamming(tt.a, tt.b) != Hamming(tt.b, tt.a) {
			t.Errorf("Hamming not symmetric for %q,%q", tt.a, tt.b)
		}
	}
}

func scenarioTwo() []models.MediaRecord {
	return []models.MediaRecord{
		img("A.jpg", "0000000000000000", ""),
		img("B.jpg", "0000000000000011", ""),
		img("C.jpg", "0000000000001111", ""),
		img("D.jpg", "ffffffffff000000", ""),
		img("E.jpg", "0000ffffffffffff", ""),
	}
}

func TestClusterScenarioTwoAnyOrder(t *testing.T) {
	want := []string{"A.jpg,B.jpg,C.jpg", "D.jpg", "E.jpg"}
	base := scenarioTwo()
	perms := [][]int{{0, 1, 2, 3, 4}, {4, 3, 2, 1, 0}, {3, 0, 4, 2, 1}, {2, 4, 1, 3, 0}}
	for _, p := range perms {
		in := make([]models.MediaRecord, len(p))
		for i, j := range p {
			in[i] = base[j]
		}
		clusters := Cluster(in, models.ChannelDHash, 5)
		if got := canonical(clusters); strings.Join(got, "|") != strings.Join(want, "|") {
			t.Fatalf("order %v: clusters = %v, want %v", p, got, want)
		}
		reps := 0
		for _, c := range clusters {
			MarkRepresentatives(c, "dhash")
			for _, r := range c {
				if r.IsRepresentative {
					reps++
				}
				if (r.FileName == "D.jpg" || r.FileName == "E.jpg") && !r.IsRepresentative {
					t.Fatalf("%s must be representative", r.FileName)
				}
			}
		}
		if reps != 3 {
			t.Fatalf("representatives = %d, want 3", reps)
		}
	}
}

func TestClusterOrderFollowsInput(t *testing.T) {
	clusters := Cluster(scenarioTwo(), models.ChannelDHash, 5)
	if len(clusters) != 3 {
		t.Fatalf("got %d clusters", len(clusters))
	}
	if got := names(clusters[0]); strings.Join(got, ",") != "A.jpg,B.jpg,C.jpg" {
		t.Fatalf("first cluster BFS order = %v", got)
	}
}

func TestClusterSingletonsForVideosAndMissingHashes(t *testing.T) {
	video := img("clip.mp4", "0000000000000000", "")
	video.Kind = models.KindVideo
	blank := img("blank.jpg", "   ", "")
	missing := img("missing.jpg", "", "")
	a := img("a.jpg", "0000000000000000", "")
	in := []models.MediaRecord{video, a, blank, missing}

	clusters := Cluster(in, models.ChannelDHash, 5)
	if len(clusters) != 4 {
		t.Fatalf("clusters = %v", canonical(clusters))
	}
	for _, c := range clusters {
		if len(c) != 1 {
			t.Fatalf("expected singletons, got %v", names(c))
		}
	}
}

func TestClusterPartitionAndSymmetry(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		var in []models.MediaRecord
		for i := 0; i < 30; i++ {
			in = append(in, img(randomName(i), randomHash(rng), ""))
		}
		clusters := Cluster(in, models.ChannelDHash, 4)

		seen := map[string]int{}
		for ci, c := range clusters {
			for _, r := range c {
				if _, dup := seen[r.Path]; dup {
					t.Fatalf("record %s in two clusters", r.Path)
				}
				seen[r.Path] = ci
			}
		}
		if len(seen) != len(in) {
			t.Fatalf("partition lost records: %d of %d", len(seen), len(in))
		}
		for i := range in {
			for j := range in {
				if Hamming(in[i].Hash(models.ChannelDHash), in[j].Hash(models.ChannelDHash)) <= 4 &&
					seen[in[i].Path] != seen[in[j].Path] {
					t.Fatalf("%s and %s are within threshold but in different clusters", in[i].Path, in[j].Path)
				}
			}
		}
	}
}

func TestClusterTwoPhaseScenarioThree(t *testing.T) {
	in := []models.MediaRecord{
		img("A.jpg", "0000000000000000", "0000000000000000"),
		img("B.jpg", "0000000000000001", "0000000000000001"),
		img("C.jpg", "0000000000000002", "ffffffffffffffff"),
		img("D.jpg", "0000000000000003", "fffffffffffffffe"),
	}
	coarse := Cluster(in, models.ChannelDHash, 5)
	if len(coarse) != 1 {
		t.Fatalf("coarse clusters = %v", canonical(coarse))
	}
	fine := ClusterTwoPhase(in, models.ChannelDHash, 5, models.ChannelPHash, 3)
	if got := strings.Join(canonical(fine), "|"); got != "A.jpg,B.jpg|C.jpg,D.jpg" {
		t.Fatalf("two-phase clusters = %s", got)
	}
	reps := 0
	for _, c := range fine {
		MarkRepresentatives(c, models.MethodTwoPhase)
		for _, r := range c {
			if r.IsRepresentative {
				reps++
			}
		}
	}
	if reps != 2 {
		t.Fatalf("representatives = %d, want 2", reps)
	}
}

func TestClusterTwoPhaseNeverGrows(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	var in []models.MediaRecord
	for i := 0; i < 60; i++ {
		in = append(in, img(randomName(i), randomHash(rng), randomHash(rng)))
	}
	coarse := Cluster(in, models.ChannelDHash, 5)
	owner := map[string]int{}
	for ci, c := range coarse {
		for _, r := range c {
			owner[r.Path] = ci
		}
	}
	for _, f := range ClusterTwoPhase(in, models.ChannelDHash, 5, models.ChannelPHash, 3) {
		for _, r := range f {
			if owner[r.Path] != owner[f[0].Path] {
				t.Fatalf("fine cluster %v spans coarse clusters", names(f))
			}
		}
	}
}

// referenceCluster 是最直接的两两比较加 BFS 实现，用来校验 BK 树路径。
func referenceCluster(in []models.MediaRecord, ch models.HashChannel, threshold int) [][]models.MediaRecord {
	visited := make([]bool, len(in))
	var out [][]models.MediaRecord
	for i := range in {
		if visited[i] {
			continue
		}
		visited[i] = true
		queue := []int{i}
		var c []models.MediaRecord
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			c = append(c, in[cur])
			for j := range in {
				if !visited[j] && Hamming(in[cur].Hash(ch), in[j].Hash(ch)) <= threshold {
					visited[j] = true
					queue = append(queue, j)
				}
			}
		}
		out = append(out, c)
	}
	return out
}

func TestClusterLargeDirectoryMatchesPairwise(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	var in []models.MediaRecord
	for i := 0; i < bkTreeMinSize+50; i++ {
		in = append(in, img(randomName(i), randomHash(rng), ""))
	}
	got := Cluster(in, models.ChannelDHash, 4)
	want := referenceCluster(in, models.ChannelDHash, 4)
	if len(got) != len(want) {
		t.Fatalf("cluster count = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if strings.Join(names(got[i]), ",") != strings.Join(names(want[i]), ",") {
			t.Fatalf("cluster %d = %v, want %v", i, names(got[i]), names(want[i]))
		}
	}
}

func TestBKTreeWithin(t *testing.T) {
	var tree bkTree
	hashes := []string{"0000", "0001", "0011", "1111", "1110"}
	for i, h := range hashes {
		tree.insert(h, i)
	}
	got := tree.within("0000", 1)
	sort.Ints(got)
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("within = %v", got)
	}
	var empty bkTree
	if empty.within("0000", 3) != nil {
		t.Fatal("empty tree must return nil")
	}
}

func randomHash(rng *rand.Rand) string {
	b := make([]byte, 16)
	for i := range b {
		if rng.Intn(5) == 0 {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b)
}

func randomName(i int) string {
	return string(rune('a'+i%26)) + strings.Repeat("x", i/26) + ".jpg"
}
