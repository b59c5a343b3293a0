package download

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func stub(url string, total, downloaded int64, done bool) FileMeta {
	return FileMeta{VideoID: "v1", URL: url, BytesTotal: total, BytesDownloaded: downloaded, Done: done}
}

func TestMerge_PersistedRecordsWin(t *testing.T) {
	fresh := []FileMeta{
		stub("http://cdn/seg0.ts", 0, 0, false),
		stub("http://cdn/seg1.ts", 0, 0, false),
	}
	persisted := []FileMeta{
		stub("http://cdn/seg0.ts", 100, 40, false),
	}

	merged := Merge(fresh, persisted)

	assert.Len(t, merged, 2)
	assert.Equal(t, int64(40), merged[0].BytesDownloaded)
	assert.Equal(t, int64(100), merged[0].BytesTotal)
	assert.Equal(t, int64(0), merged[1].BytesDownloaded)
	assert.Equal(t, 0, merged[0].Position)
	assert.Equal(t, 1, merged[1].Position)
}

func TestMerge_DropsRecordsAbsentFromFreshSet(t *testing.T) {
	fresh := []FileMeta{stub("http://cdn/seg0.ts", 0, 0, false)}
	persisted := []FileMeta{
		stub("http://cdn/seg0.ts", 100, 100, true),
		stub("http://cdn/removed.ts", 50, 50, true),
	}

	merged := Merge(fresh, persisted)

	assert.Len(t, merged, 1)
	assert.Equal(t, "http://cdn/seg0.ts", merged[0].URL)
	assert.True(t, merged[0].Done)
}

func TestMerge_Idempotent(t *testing.T) {
	fresh := []FileMeta{
		stub("http://cdn/seg0.ts", 100, 40, false),
		stub("http://cdn/seg1.ts", 300, 0, false),
	}

	// Merging persisted state identical to the fresh set must yield the
	// same working set as the fresh set alone.
	assert.Equal(t, Merge(fresh, nil), Merge(fresh, fresh))
}

func TestMerge_FreshOrderIsAuthoritative(t *testing.T) {
	fresh := []FileMeta{
		stub("http://cdn/seg1.ts", 0, 0, false),
		stub("http://cdn/seg0.ts", 0, 0, false),
	}
	persisted := []FileMeta{
		{VideoID: "v1", URL: "http://cdn/seg0.ts", Position: 0},
		{VideoID: "v1", URL: "http://cdn/seg1.ts", Position: 1},
	}

	merged := Merge(fresh, persisted)

	assert.Equal(t, "http://cdn/seg1.ts", merged[0].URL)
	assert.Equal(t, 0, merged[0].Position)
	assert.Equal(t, "http://cdn/seg0.ts", merged[1].URL)
	assert.Equal(t, 1, merged[1].Position)
}

func TestProgress(t *testing.T) {
	tests := []struct {
		name  string
		files []FileMeta
		want  float64
	}{
		{
			name: "empty set",
			want: 0,
		},
		{
			name:  "all done",
			files: []FileMeta{stub("a", 100, 100, true), stub("b", 300, 300, true)},
			want:  100,
		},
		{
			name:  "resumed file plus unseen file",
			files: []FileMeta{stub("a", 100, 40, false), stub("b", 0, 0, false)},
			want:  20,
		},
		{
			name:  "unknown total contributes nothing",
			files: []FileMeta{stub("a", 0, 50, false)},
			want:  0,
		},
		{
			name:  "done with unknown total still counts fully",
			files: []FileMeta{stub("a", 0, 50, true)},
			want:  100,
		},
		{
			name:  "overcount is clamped per file",
			files: []FileMeta{stub("a", 100, 150, false)},
			want:  100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Progress(tt.files), 1e-9)
		})
	}
}

func TestFraction(t *testing.T) {
	half := stub("a", 100, 50, false)
	assert.InDelta(t, 0.5, half.Fraction(), 1e-9)

	unknown := stub("a", 0, 50, false)
	assert.Zero(t, unknown.Fraction())

	done := stub("a", 100, 100, true)
	assert.InDelta(t, 1.0, done.Fraction(), 1e-9)
}
