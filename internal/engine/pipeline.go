package engine

import (
	"sort"

	"vigil/internal/model"
)

// DedupSortData orders a batch by natural order and collapses exact
// duplicates (same identity and timestamp) to one item.
func DedupSortData(batch []model.Data) []model.Data {
	if len(batch) < 2 {
		return batch
	}
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].Compare(batch[j]) < 0 })
	out := batch[:1]
	for _, d := range batch[1:] {
		if d.Compare(out[len(out)-1]) == 0 {
			continue
		}
		out = append(out, d)
	}
	return out
}

// MinIntervalData walks a sorted batch and drops the later of two
// consecutive same-identity items closer together than the interval.
// A non-positive interval disables filtering.
func MinIntervalData(sorted []model.Data, intervalMs int64) []model.Data {
	if intervalMs <= 0 || len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, d := range sorted[1:] {
		prev := out[len(out)-1]
		if d.Same(prev) && d.Timestamp-prev.Timestamp < intervalMs {
			continue
		}
		out = append(out, d)
	}
	return out
}

// DedupSortEvents orders a batch by natural order and collapses exact
// duplicates to one item.
func DedupSortEvents(batch []model.Event) []model.Event {
	if len(batch) < 2 {
		return batch
	}
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].Compare(batch[j]) < 0 })
	out := batch[:1]
	for _, e := range batch[1:] {
		if e.Compare(out[len(out)-1]) == 0 {
			continue
		}
		out = append(out, e)
	}
	return out
}

// MinIntervalEvents is MinIntervalData for events, keyed on ctime.
func MinIntervalEvents(sorted []model.Event, intervalMs int64) []model.Event {
	if intervalMs <= 0 || len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, e := range sorted[1:] {
		prev := out[len(out)-1]
		if e.Same(prev) && e.CTime-prev.CTime < intervalMs {
			continue
		}
		out = append(out, e)
	}
	return out
}
