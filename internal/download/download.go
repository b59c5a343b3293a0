package download

// FileMeta is the authoritative download state of a single remote file.
// It is created as a stub by the URL resolver and mutated only by the
// storage coordinator once a session is running.
type FileMeta struct {
	VideoID         string
	URL             string
	Position        int
	BytesTotal      int64 // 0 means the size is not known yet
	BytesDownloaded int64
	Done            bool
}

// Fraction returns the file's completion as a value in [0, 1].
// A file with an unknown or zero total contributes nothing until it is done.
func (f *FileMeta) Fraction() float64 {
	if f.Done {
		return 1
	}

	if f.BytesTotal <= 0 {
		return 0
	}

	frac := float64(f.BytesDownloaded) / float64(f.BytesTotal)
	if frac > 1 {
		return 1
	}

	return frac
}

// Remaining reports whether the file still has bytes to fetch.
func (f *FileMeta) Remaining() bool {
	return !f.Done
}

// VideoMeta is the aggregate state of a video's file set. Done is written
// exactly once, when the last outstanding file completes.
type VideoMeta struct {
	VideoID string
	Done    bool
}

// Merge produces the working file set for a session. The fresh resolver
// output is authoritative for membership and order; a persisted record with
// the same URL supersedes the fresh stub so progress survives restarts.
// Records persisted for URLs no longer in the fresh set are dropped.
func Merge(fresh, persisted []FileMeta) []FileMeta {
	byURL := make(map[string]FileMeta, len(persisted))
	for _, p := range persisted {
		byURL[p.URL] = p
	}

	merged := make([]FileMeta, 0, len(fresh))

	for i, f := range fresh {
		if p, ok := byURL[f.URL]; ok {
			p.VideoID = f.VideoID
			p.Position = i
			merged = append(merged, p)

			continue
		}

		f.Position = i
		merged = append(merged, f)
	}

	return merged
}

// Progress computes the aggregate percentage for a file set: the arithmetic
// mean of per-file fractions, expressed in [0, 100].
func Progress(files []FileMeta) float64 {
	if len(files) == 0 {
		return 0
	}

	var sum float64
	for i := range files {
		sum += files[i].Fraction()
	}

	pct := sum / float64(len(files)) * 100

	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}

	return pct
}
