package delivery

import (
	"strings"

	"SportRelay/entity"
)

// Format renders the submission header posted ahead of the photo batches.
// Competition reports get the bracketed date, the resolved event type and
// the remaining answers in fixed order; explicitly skipped fields are left
// out entirely. Achievements are a label plus the free text.
func Format(sub *entity.Submission) string {
	if sub.Kind == entity.KindAchievement {
		return "🏅 Achievement:\n" + deref(sub.Body)
	}

	var b strings.Builder
	b.WriteString("[" + deref(sub.Date) + "]")

	if t := sub.ResolvedEventType(); t != "" && t != entity.SkipValue {
		b.WriteString("\n" + t)
	}
	for _, field := range []*string{sub.Discipline, sub.Category, sub.Stage, sub.Phase} {
		if v := deref(field); v != "" && v != entity.SkipValue {
			b.WriteString("\n" + v)
		}
	}

	return b.String()
}

// ChunkFileIds partitions the photo list into batches no larger than size,
// preserving the original order across chunks.
func ChunkFileIds(photos []entity.Photo, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(photos); start += size {
		end := start + size
		if end > len(photos) {
			end = len(photos)
		}
		chunk := make([]string, 0, end-start)
		for _, p := range photos[start:end] {
			chunk = append(chunk, p.FileId)
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
