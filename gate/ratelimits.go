package gate

import "github.com/fluxline/workflowcore"

// StaticRateLimits is a simple in-memory RateLimits backed by a fixed map,
// suitable for configuration loaded once at startup.
type StaticRateLimits struct {
	byServer map[string]workflowcore.SourceRateLimit
}

// NewStaticRateLimits builds a StaticRateLimits from limits, keyed by their
// Source field.
func NewStaticRateLimits(limits []workflowcore.SourceRateLimit) *StaticRateLimits {
	m := make(map[string]workflowcore.SourceRateLimit, len(limits))
	for _, l := range limits {
		m[l.Source] = l
	}
	return &StaticRateLimits{byServer: m}
}

// Lookup implements RateLimits.
func (s *StaticRateLimits) Lookup(source string) (workflowcore.SourceRateLimit, bool) {
	l, ok := s.byServer[source]
	return l, ok
}

var _ RateLimits = (*StaticRateLimits)(nil)
