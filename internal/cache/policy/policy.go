// Package policy implements the engine's eviction policies as a small
// capability-set interface: admission, insert/access/erase hooks, and
// victim selection are independent knobs a concrete policy can opt into.
package policy

import (
	"fmt"
	"time"
)

// Params are the live-tunable knobs shared by every policy. Fields not
// used by a given policy (e.g. LRU ignores the cost weights) are simply
// carried along so reload/rollback can treat params uniformly.
type Params struct {
	WMiss                 float64
	WReuse                float64
	WMem                  float64
	WRisk                 float64
	AdmitThreshold        float64
	EvictPressure         float64
	MaxEvictionsPerSecond uint64
	MaxAdmissionsPerSecond uint64
	OwnerCapBytes         uint64
	Version               string
}

// DefaultParams mirrors the original implementation's field defaults.
func DefaultParams() Params {
	return Params{
		WMiss:                  1.0,
		WReuse:                 1.0,
		WMem:                   1.0,
		WRisk:                  1.0,
		AdmitThreshold:         0.0,
		EvictPressure:          0.8,
		MaxEvictionsPerSecond:  10000,
		MaxAdmissionsPerSecond: 10000,
		OwnerCapBytes:          0,
		Version:                "defaults-v1",
	}
}

// EntryView is the read-only projection of a cache entry a policy needs,
// kept independent of the engine's Entry type so this package never
// imports the engine.
type EntryView struct {
	LastAccess time.Time
	HitCount   uint64
	SizeBytes  int
}

// Candidate describes a key being considered for admission.
type Candidate struct {
	Key      string
	Entry    EntryView
	MissCost float64
}

// Policy is the capability set every eviction strategy implements.
type Policy interface {
	Name() string
	ShouldAdmit(c Candidate) bool
	OnInsert(key string, e EntryView)
	OnAccess(key string, e EntryView)
	OnErase(key string)
	// PickVictim scans entries and returns a key to evict. A memoryLimit
	// of 0 skips any pressure threshold check. Returns ok=false when no victim should be picked
	// this call (empty table, rate-limited, below pressure threshold).
	PickVictim(entries map[string]EntryView, memoryUsed, memoryLimit uint64) (key string, ok bool)
	SetParams(p Params)
	Params() Params
}

// New resolves a policy by name, defaulting to the cost-aware policy for
// any name other than "lru"/"lfu" (matching make_policy_by_name).
func New(name string) Policy {
	switch name {
	case "lru":
		return NewLRU()
	case "lfu":
		return NewLFU()
	default:
		return NewCost()
	}
}

// ErrUnknownPolicy is returned by callers that want strict name validation
// instead of New's fallback-to-cost behavior (e.g. CONFIG SET POLICY over the wire).
var ErrUnknownPolicy = fmt.Errorf("unknown policy name")

// Resolve behaves like New but reports unknown names instead of silently
// falling back, for callers (the dispatcher's CONFIG SET POLICY) that should
// reject typos rather than silently switching to pomai_cost.
func Resolve(name string) (Policy, error) {
	switch name {
	case "lru":
		return NewLRU(), nil
	case "lfu":
		return NewLFU(), nil
	case "pomai_cost":
		return NewCost(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}
