package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/bbscout/dbbackup/internal/domain"
)

// SelectExpired returns the names that fall outside the keep most recent,
// oldest first. Names are ordered lexicographically, which is chronological
// for artifact names. The input slice is not modified.
func SelectExpired(names []string, keep int) []string {
	if keep < 0 {
		keep = 0
	}
	if len(names) <= keep {
		return nil
	}

	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return sorted[:len(sorted)-keep]
}

type Pruner struct {
	store  domain.RemoteStore
	naming ArtifactNaming
	logger Logger
}

func NewPruner(store domain.RemoteStore, naming ArtifactNaming, logger Logger) *Pruner {
	return &Pruner{
		store:  store,
		naming: naming,
		logger: logger,
	}
}

// Prune deletes the artifacts in dest beyond policy.Keep and returns the
// names it removed. Objects that are not artifacts are neither counted nor
// touched. A failed delete does not stop the pass; every error returned
// wraps domain.ErrRetention.
func (p *Pruner) Prune(ctx context.Context, dest domain.Destination, policy domain.RetentionPolicy) ([]string, error) {
	names, err := p.store.List(ctx, dest)
	if err != nil {
		return nil, domain.NewStageError(domain.ErrRetention, fmt.Errorf("list %s: %w", dest, err))
	}

	candidates := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] || !p.naming.Matches(name) {
			continue
		}
		seen[name] = true
		candidates = append(candidates, name)
	}

	expired := SelectExpired(candidates, policy.Keep)
	if len(expired) == 0 {
		p.logger.Infow("Retention: nothing to prune",
			"destination", dest.String(), "artifacts", len(candidates), "keep", policy.Keep)
		return nil, nil
	}

	var (
		pruned []string
		errs   []error
	)
	for _, name := range expired {
		if err := p.store.Delete(ctx, dest, name); err != nil {
			p.logger.Warnw("Retention: failed to delete artifact", "artifact", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		p.logger.Infow("Retention: deleted artifact", "artifact", name)
		pruned = append(pruned, name)
	}

	if len(errs) > 0 {
		return pruned, domain.NewStageError(domain.ErrRetention,
			fmt.Errorf("failed to delete %d of %d expired artifacts: %w", len(errs), len(expired), errors.Join(errs...)))
	}
	return pruned, nil
}
