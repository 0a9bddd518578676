package core

import (
	"fmt"
	"sort"
)

// RequestPartition is the single ordering partition of the request stream.
const RequestPartition = "requests"

// SequenceValidator validates upstream sequences per partition. Sequenced
// requests start at 1; 0 means unsequenced and is never checked.
// Not thread-safe: only the core goroutine touches it.
type SequenceValidator struct {
	lastSeq map[string]int64 // partition -> last accepted sequence
	metrics *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		lastSeq: make(map[string]int64),
		metrics: NewSequenceMetrics(),
	}
}

// ValidateSequence checks source sequence ordering without advancing it.
// Stale sequences are accepted for duplicates, which replay their stored
// response.
func (sv *SequenceValidator) ValidateSequence(partition string, sourceSequence int64, isDuplicate bool) error {
	if sourceSequence == 0 {
		return nil
	}
	expected := sv.GetExpectedSequence(partition)

	switch {
	case sourceSequence < expected:
		if isDuplicate {
			return nil
		}
		sv.metrics.RecordOutOfOrder(partition)
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrOutOfOrder, partition, expected, sourceSequence)
	case sourceSequence > expected:
		if isDuplicate {
			return nil
		}
		sv.metrics.RecordGap(partition, expected, sourceSequence)
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrSequenceGap, partition, expected, sourceSequence)
	}
	return nil
}

// Advance records sourceSequence as accepted once the request is committed
func (sv *SequenceValidator) Advance(partition string, sourceSequence int64) {
	if sourceSequence > sv.lastSeq[partition] {
		sv.lastSeq[partition] = sourceSequence
	}
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.lastSeq[partition] + 1
}

// RestorePartition initializes the last accepted sequence (used during recovery)
func (sv *SequenceValidator) RestorePartition(partition string, lastSeq int64) {
	sv.lastSeq[partition] = lastSeq
}

// GetAllPartitions returns partitions in name order
func (sv *SequenceValidator) GetAllPartitions() []string {
	out := make([]string, 0, len(sv.lastSeq))
	for p := range sv.lastSeq {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (sv *SequenceValidator) GetMetrics() *SequenceMetrics {
	return sv.metrics
}

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
// Not thread-safe: only the core goroutine touches it.
type SequenceMetrics struct {
	gaps       map[string]int64
	outOfOrder map[string]int64
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string, expected, got int64) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}
