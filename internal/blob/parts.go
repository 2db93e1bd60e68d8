package blob

import "sort"

const (
	MinPartSize     = int64(5 * 1024 * 1024) // S3 minimum for every part but the last
	maxPartCount    = 10000
	defaultPartSize = MinPartSize
)

type PartStatus string

const (
	PartPending   PartStatus = "pending"
	PartUploading PartStatus = "uploading"
	PartCompleted PartStatus = "completed"
	PartFailed    PartStatus = "failed"
)

// UploadPart covers bytes [Start, End) of the payload
type UploadPart struct {
	PartNumber int32
	Start      int64
	End        int64
	Size       int64
	ETag       string
	Status     PartStatus
	RetryCount int
}

// PlanParts splits [0, fileSize) into contiguous parts numbered from 1.
// Only the last part may be shorter than chunkSize.
func PlanParts(fileSize, chunkSize int64) []*UploadPart {
	if fileSize <= 0 || chunkSize <= 0 {
		return nil
	}

	count := divideAndCeil(fileSize, chunkSize)
	parts := make([]*UploadPart, 0, count)
	for i := int64(0); i < count; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, fileSize)
		parts = append(parts, &UploadPart{
			PartNumber: int32(i + 1),
			Start:      start,
			End:        end,
			Size:       end - start,
			Status:     PartPending,
		})
	}
	return parts
}

// selectChunkSize clamps the requested size to the S3 minimum and grows it
// until the part count fits the protocol limit
func selectChunkSize(fileSize, requested int64) int64 {
	chunk := requested
	if chunk <= 0 {
		chunk = defaultPartSize
	}
	if chunk < MinPartSize {
		chunk = MinPartSize
	}
	for divideAndCeil(fileSize, chunk) > maxPartCount {
		chunk *= 2
	}
	return chunk
}

func completedParts(parts []*UploadPart) []CompletedPart {
	out := make([]CompletedPart, 0, len(parts))
	for _, p := range parts {
		out = append(out, CompletedPart{PartNumber: p.PartNumber, ETag: p.ETag})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PartNumber < out[j].PartNumber
	})
	return out
}

func divideAndCeil(numerator, denominator int64) int64 {
	if denominator == 0 {
		return 0
	}
	quotient := numerator / denominator
	if numerator%denominator != 0 {
		quotient++
	}
	return quotient
}
