package batching

import (
	"hush/internal/constants"
	"hush/internal/event"
)

// SimilarityPolicy decides which open group, if any, a new event joins.
type SimilarityPolicy interface {
	// BatchType partitions events before similarity is considered.
	BatchType(e *event.NotificationEvent) string
	// Score rates candidate against a group's representative in [0, 1].
	Score(representative, candidate *event.NotificationEvent) float64
	Threshold() float64
}

// JaccardPolicy compares the token sets {source, subject type, subject id,
// author} of two events.
type JaccardPolicy struct {
	threshold float64
}

func NewJaccardPolicy(threshold float64) JaccardPolicy {
	if threshold <= 0 || threshold > 1 {
		threshold = constants.DefaultSimilarityThreshold
	}
	return JaccardPolicy{threshold: threshold}
}

func (p JaccardPolicy) Threshold() float64 {
	return p.threshold
}

// BatchType groups by source and subject type, e.g. code_review/pull_request.
func (p JaccardPolicy) BatchType(e *event.NotificationEvent) string {
	subjectType := e.SubjectType()
	if subjectType == "" {
		subjectType = "event"
	}
	return string(e.Source) + "/" + subjectType
}

func (p JaccardPolicy) Score(a, b *event.NotificationEvent) float64 {
	return Jaccard(tokens(a), tokens(b))
}

func tokens(e *event.NotificationEvent) map[string]struct{} {
	set := make(map[string]struct{}, 4)
	add := func(kind, v string) {
		if v != "" {
			set[kind+"="+v] = struct{}{}
		}
	}
	add("source", string(e.Source))
	add("subject_type", e.SubjectType())
	add("subject_id", e.SubjectID())
	add("author", e.Author())
	return set
}

// Jaccard returns |a ∩ b| / |a ∪ b|; two empty sets score 1.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	shared := 0
	for k := range a {
		if _, ok := b[k]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}
