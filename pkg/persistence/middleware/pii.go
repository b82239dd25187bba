package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/ports"
)

// Mask replaces the values of sensitive keys.
const Mask = "***"

type piiMiddleware struct {
	ports.SessionStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks values of Context and PhaseData keys
// matching the patterns before they reach the store.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.SessionStore) ports.SessionStore {
		return &piiMiddleware{SessionStore: next, patterns: patterns}
	}
}

func (m *piiMiddleware) CreateSession(ctx context.Context, s *domain.Session) (bool, error) {
	// Clone so the caller's in-memory session keeps the real values.
	cloned := s.Clone()
	cloned.Context = deepCopyMap(s.Context)
	cloned.PhaseData = deepCopyMap(s.PhaseData)
	maskMap(cloned.Context, m.patterns)
	maskMap(cloned.PhaseData, m.patterns)
	return m.SessionStore.CreateSession(ctx, cloned)
}

func (m *piiMiddleware) UpdateState(ctx context.Context, sessionID string, phase domain.Phase, phaseData map[string]any) (bool, error) {
	return m.SessionStore.UpdateState(ctx, sessionID, phase, m.masked(phaseData))
}

func (m *piiMiddleware) Finalize(ctx context.Context, f domain.Finalization) (bool, error) {
	f.PhaseData = m.masked(f.PhaseData)
	return m.SessionStore.Finalize(ctx, f)
}

func (m *piiMiddleware) masked(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := deepCopyMap(data)
	maskMap(out, m.patterns)
	return out
}

// Helpers

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		// Handle nested maps
		if subMap, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(subMap)
		} else {
			out[k] = v // shallow copy of value
		}
	}
	return out
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		masked := false
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Mask
				masked = true
				break
			}
		}

		// Recurse if map
		if subMap, ok := v.(map[string]any); ok && !masked {
			maskMap(subMap, patterns)
		}
	}
}
