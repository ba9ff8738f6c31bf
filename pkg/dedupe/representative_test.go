package dedupe

import (
	"MediaMerger/internal/models"
	"testing"
	"time"
)

func rec(name string, size int64, ts time.Time) models.MediaRecord {
	return models.MediaRecord{FileName: name, Path: "/d/" + name, Size: size, ModTime: ts}
}

func TestPickRepresentative(t *testing.T) {
	t0 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		cluster []models.MediaRecord
		want    int
	}{
		{"empty", nil, -1},
		{"insta token beats size", []models.MediaRecord{
			rec("big.jpg", 9000, t0),
			rec("x_abc-def_y.jpg", 10, t0),
		}, 1},
		{"combining mark is not a word character", []models.MediaRecord{
			rec("big.jpg", 9000, t0),
			rec("x_cafe\u0301-def_y.jpg", 10, t0),
		}, 0},
		{"copy marker loses", []models.MediaRecord{
			rec("photo (1).jpg", 5000, t0),
			rec("photo.jpg", 100, t0),
		}, 1},
		{"larger wins", []models.MediaRecord{
			rec("a.jpg", 100, t0),
			rec("b.jpg", 200, t0),
		}, 1},
		{"newer wins on equal size", []models.MediaRecord{
			rec("a.jpg", 100, t0.Add(time.Hour)),
			rec("b.jpg", 100, t0),
		}, 0},
		{"missing timestamp is minimum", []models.MediaRecord{
			rec("a.jpg", 100, time.Time{}),
			rec("b.jpg", 100, t0),
		}, 1},
		{"ties keep first", []models.MediaRecord{
			rec("a.jpg", 100, t0),
			rec("b.jpg", 100, t0),
			rec("c.jpg", 100, t0),
		}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PickRepresentative(tt.cluster); got != tt.want {
				t.Fatalf("PickRepresentative = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPickRepresentativeIsDeterministic(t *testing.T) {
	t0 := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	cluster := []models.MediaRecord{
		rec("p (2).jpg", 300, t0),
		rec("p.jpg", 300, t0),
		rec("q.jpg", 300, t0),
	}
	first := PickRepresentative(cluster)
	for i := 0; i < 10; i++ {
		if PickRepresentative(cluster) != first {
			t.Fatal("representative changed between calls")
		}
	}
	if cluster[first].FileName != "p.jpg" {
		t.Fatalf("representative = %s", cluster[first].FileName)
	}
}

func TestMarkRepresentatives(t *testing.T) {
	cluster := []models.MediaRecord{rec("a.jpg", 1, time.Time{}), rec("b.jpg", 2, time.Time{})}
	cluster[0].IsRepresentative = true
	MarkRepresentatives(cluster, "phash")
	if cluster[0].IsRepresentative || !cluster[1].IsRepresentative {
		t.Fatalf("flags = %v,%v", cluster[0].IsRepresentative, cluster[1].IsRepresentative)
	}
	for _, r := range cluster {
		if r.DedupeMethod != "phash" {
			t.Fatalf("method = %q", r.DedupeMethod)
		}
	}
}
