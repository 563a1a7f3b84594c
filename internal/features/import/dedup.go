package import_feature

import (
	"context"
)

// AssetLookup is the slice of the asset store the duplicate detector needs.
type AssetLookup interface {
	ExistsByCodeOrTag(ctx context.Context, code, tag string) (bool, error)
}

// DuplicateDetector decides whether a record's natural key was already
// accepted, either earlier in this job (local cache) or by a prior import
// (store lookup). The cache lives exactly as long as the job's streaming
// pass; the store stays the source of truth across jobs.
type DuplicateDetector struct {
	seen          map[string]struct{}
	lookup        AssetLookup
	skipStoreScan bool
}

// NewDuplicateDetector creates a detector for one job. With skipStoreScan set
// the store round-trip is skipped (first-time bulk loads known to be clean);
// in-file duplicates are still caught by the cache.
func NewDuplicateDetector(lookup AssetLookup, skipStoreScan bool) *DuplicateDetector {
	return &DuplicateDetector{
		seen:          make(map[string]struct{}),
		lookup:        lookup,
		skipStoreScan: skipStoreScan,
	}
}

// IsDuplicate checks the cache first, then the store. The key is cached
// regardless of the store's answer so the same key never triggers a second
// round-trip within the job. No cross-job locking: a concurrent job racing
// on the same key is resolved by the store's uniqueness constraint at write
// time.
func (d *DuplicateDetector) IsDuplicate(ctx context.Context, code, tag string) (bool, error) {
	codeKey := "c\x00" + code
	tagKey := "t\x00" + tag

	_, codeSeen := d.seen[codeKey]
	_, tagSeen := d.seen[tagKey]
	if codeSeen || tagSeen {
		return true, nil
	}

	d.seen[codeKey] = struct{}{}
	d.seen[tagKey] = struct{}{}

	if d.skipStoreScan {
		return false, nil
	}

	return d.lookup.ExistsByCodeOrTag(ctx, code, tag)
}
