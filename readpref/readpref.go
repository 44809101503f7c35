// Package readpref models the read preference a caller attaches to an
// operation: which server roles are eligible, how tag sets narrow the
// candidate set, and how stale a secondary is allowed to be.
package readpref

import (
	"errors"
	"time"

	"github.com/clusterdb/godriver/tag"
)

// Mode represents a read preference mode.
type Mode uint8

// The read preference modes, per spec.md §4.3.
const (
	PrimaryMode Mode = iota
	PrimaryPreferredMode
	SecondaryMode
	SecondaryPreferredMode
	NearestMode
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case PrimaryMode:
		return "primary"
	case PrimaryPreferredMode:
		return "primaryPreferred"
	case SecondaryMode:
		return "secondary"
	case SecondaryPreferredMode:
		return "secondaryPreferred"
	case NearestMode:
		return "nearest"
	default:
		return "unknown"
	}
}

// ErrInvalidMaxStaleness is returned when a ReadPref's max staleness is set
// but fails the lower bound in spec.md §4.3 step 6.
var ErrInvalidMaxStaleness = errors.New("readpref: max staleness must be at least 90s and at least heartbeatFrequency + idleWritePeriod")

// minMaxStaleness and idleWritePeriod are the constants spec.md §4.3 step 6
// requires the bound to respect.
const (
	minMaxStaleness = 90 * time.Second
	idleWritePeriod = 10 * time.Second
)

// ReadPref describes where reads for an operation may be routed.
type ReadPref struct {
	mode         Mode
	tagSets      tag.Sets
	maxStaleness time.Duration
	maxStalenessSet bool
}

// New constructs a ReadPref with the given mode and options.
func New(mode Mode, opts ...Option) (*ReadPref, error) {
	rp := &ReadPref{mode: mode}
	for _, opt := range opts {
		opt(rp)
	}
	if rp.mode == PrimaryMode && (len(rp.tagSets) > 0 || rp.maxStalenessSet) {
		return nil, errors.New("readpref: primary mode cannot be combined with tag sets or max staleness")
	}
	return rp, nil
}

// Primary returns a ReadPref with mode Primary.
func Primary() *ReadPref { rp, _ := New(PrimaryMode); return rp }

// PrimaryPreferred returns a ReadPref with mode PrimaryPreferred.
func PrimaryPreferred(opts ...Option) *ReadPref { rp, _ := New(PrimaryPreferredMode, opts...); return rp }

// Secondary returns a ReadPref with mode Secondary.
func Secondary(opts ...Option) *ReadPref { rp, _ := New(SecondaryMode, opts...); return rp }

// SecondaryPreferred returns a ReadPref with mode SecondaryPreferred.
func SecondaryPreferred(opts ...Option) *ReadPref { rp, _ := New(SecondaryPreferredMode, opts...); return rp }

// Nearest returns a ReadPref with mode Nearest.
func Nearest(opts ...Option) *ReadPref { rp, _ := New(NearestMode, opts...); return rp }

// Mode returns the read preference mode.
func (rp *ReadPref) Mode() Mode { return rp.mode }

// TagSets returns the configured tag sets, evaluated in order.
func (rp *ReadPref) TagSets() tag.Sets { return rp.tagSets }

// MaxStaleness returns the configured max staleness and whether one was set.
func (rp *ReadPref) MaxStaleness() (time.Duration, bool) { return rp.maxStaleness, rp.maxStalenessSet }

// Validate checks the max-staleness lower bound against a heartbeat
// frequency, per spec.md §4.3 step 6.
func (rp *ReadPref) Validate(heartbeatFrequency time.Duration) error {
	if !rp.maxStalenessSet {
		return nil
	}
	if rp.mode == PrimaryMode {
		return errors.New("readpref: max staleness is incompatible with primary mode")
	}
	bound := minMaxStaleness
	if alt := heartbeatFrequency + idleWritePeriod; alt > bound {
		bound = alt
	}
	if rp.maxStaleness < bound {
		return ErrInvalidMaxStaleness
	}
	return nil
}

// Option configures a ReadPref at construction time.
type Option func(*ReadPref)

// WithTagSets sets the ordered list of tag sets to filter candidates by.
func WithTagSets(sets ...tag.Set) Option {
	return func(rp *ReadPref) { rp.tagSets = append(tag.Sets{}, sets...) }
}

// WithMaxStaleness sets the max staleness bound for secondary reads.
func WithMaxStaleness(d time.Duration) Option {
	return func(rp *ReadPref) {
		rp.maxStaleness = d
		rp.maxStalenessSet = true
	}
}
