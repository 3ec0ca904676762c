package job

// DefaultAcceptRatio is the produced/original size ratio at or above which
// the original file is delivered instead of the transcode.
const DefaultAcceptRatio = 0.95

// ExportOutcome records the post-encode size comparison.
type ExportOutcome struct {
	OriginalBytes int64
	ProducedBytes int64
	// Accepted is false when the original bytes were delivered.
	Accepted bool
}

// Saved is the number of bytes the delivered file saves over the original.
func (o ExportOutcome) Saved() int64 {
	if !o.Accepted || o.OriginalBytes <= 0 {
		return 0
	}
	return o.OriginalBytes - o.ProducedBytes
}

// Validate decides whether a transcode is worth delivering. Without a known
// original size the transcode is assumed good.
func Validate(originalBytes, producedBytes int64, threshold float64) ExportOutcome {
	if threshold <= 0 {
		threshold = DefaultAcceptRatio
	}

	out := ExportOutcome{OriginalBytes: originalBytes, ProducedBytes: producedBytes, Accepted: true}
	if originalBytes <= 0 {
		return out
	}

	ratio := float64(producedBytes) / float64(originalBytes)
	out.Accepted = producedBytes > 0 && ratio < threshold
	return out
}
