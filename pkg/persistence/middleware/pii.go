package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/aretw0/tillflow/pkg/ports"
)

// Mask replaces the value of every masked scope key.
const Mask = "***"

type piiMiddleware struct {
	next     ports.SnapshotStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks scope values whose keys
// match one of the patterns, such as card numbers or loyalty ids.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		patterns[i] = re
	}
	return func(next ports.SnapshotStore) ports.SnapshotStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) Save(ctx context.Context, deviceID string, snap *domain.Snapshot) error {
	// Copy, so the caller's snapshot stays intact.
	cloned := *snap
	cloned.Scope = deepCopyMap(snap.Scope)
	maskMap(cloned.Scope, m.patterns)
	return m.next.Save(ctx, deviceID, &cloned)
}

func (m *piiMiddleware) Load(ctx context.Context, deviceID string) (*domain.Snapshot, error) {
	return m.next.Load(ctx, deviceID)
}

func (m *piiMiddleware) Delete(ctx context.Context, deviceID string) error {
	return m.next.Delete(ctx, deviceID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if subMap, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(subMap)
		} else {
			out[k] = v
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
		if subMap, ok := v.(map[string]any); ok && !masked {
			maskMap(subMap, patterns)
		}
	}
}
