package usecase

import (
	"context"
	"strings"
	"time"
)

const artifactTimeLayout = "20060102-150405"

// ArtifactNaming derives artifact names of the form
// <prefix>-YYYYMMDD-HHMMSS<suffix>. The timestamp is UTC and zero padded, so
// names sort lexicographically in creation order.
type ArtifactNaming struct {
	Prefix string
	Suffix string
}

func NewArtifactNaming(prefix, extension string) ArtifactNaming {
	return ArtifactNaming{Prefix: prefix, Suffix: ".sql" + extension}
}

func (n ArtifactNaming) Name(t time.Time) string {
	return n.Prefix + "-" + t.UTC().Format(artifactTimeLayout) + n.Suffix
}

// Time extracts the timestamp from name. It reports false for names that were
// not produced by this naming scheme.
func (n ArtifactNaming) Time(name string) (time.Time, bool) {
	head := n.Prefix + "-"
	if !strings.HasPrefix(name, head) || !strings.HasSuffix(name, n.Suffix) {
		return time.Time{}, false
	}

	stamp := name[len(head) : len(name)-len(n.Suffix)]
	if len(stamp) != len(artifactTimeLayout) {
		return time.Time{}, false
	}

	t, err := time.ParseInLocation(artifactTimeLayout, stamp, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (n ArtifactNaming) Matches(name string) bool {
	_, ok := n.Time(name)
	return ok
}

// withTimeout bounds ctx by d. A zero d leaves ctx unbounded.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
