package usecase

import (
	"strings"

	"github.com/nettrail/fwmon/internal/domain"
)

// FilterPipelineImpl implements domain.FilterPipeline.
// Pure and stateless: interest-set filtering followed by prefix-token
// classification, preserving batch order.
type FilterPipelineImpl struct {
	interest   domain.InterestSet
	allowToken string
	blockToken string
}

// NewFilterPipeline creates a pipeline for the given interest set and
// classification tokens.
func NewFilterPipeline(interest domain.InterestSet, allowToken, blockToken string) domain.FilterPipeline {
	return &FilterPipelineImpl{
		interest:   interest,
		allowToken: allowToken,
		blockToken: blockToken,
	}
}

// Process filters a batch by the interest set and classifies the
// survivors. Records that match no interest address are dropped here but
// still count toward watermark advancement in the caller, which works on
// the raw batch.
func (p *FilterPipelineImpl) Process(batch []domain.RawRecord) []domain.DisplayRecord {
	out := make([]domain.DisplayRecord, 0, len(batch))
	for _, rec := range batch {
		if !p.interest.Matches(rec.Message) {
			continue
		}
		out = append(out, domain.DisplayRecord{
			Timestamp: rec.Timestamp(),
			Message:   rec.Message,
			Category:  p.classify(rec.Message),
		})
	}
	return out
}

// classify assigns the display category from the message prefix.
// Matching ignores case and leading whitespace.
func (p *FilterPipelineImpl) classify(message string) domain.Category {
	trimmed := strings.TrimLeft(message, " \t")
	switch {
	case p.allowToken != "" && hasPrefixFold(trimmed, p.allowToken):
		return domain.CategoryAllow
	case p.blockToken != "" && hasPrefixFold(trimmed, p.blockToken):
		return domain.CategoryBlock
	default:
		return domain.CategoryOther
	}
}

// hasPrefixFold reports whether s starts with prefix, ignoring case.
func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// Ensure FilterPipelineImpl implements domain.FilterPipeline.
var _ domain.FilterPipeline = (*FilterPipelineImpl)(nil)
