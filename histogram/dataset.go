package histogram

import (
	"math"
	"sort"
)

// Entry is one weighted dataset row.
type Entry struct {
	Channel string
	Bin     int
	X       float64 // observable value, usually the bin center
	Weight  float64
}

// Dataset is a weighted set of entries indexed by channel.
type Dataset struct {
	Name    string
	Entries []Entry
}

// NewDataset creates an empty dataset.
func NewDataset(name string) *Dataset {
	return &Dataset{Name: name}
}

// FromHistogram converts the bins of h into dataset entries for channel.
// Empty bins are not added.
func FromHistogram(name, channel string, h *Histogram) *Dataset {
	ds := NewDataset(name)
	for i, v := range h.Values {
		if v == 0 {
			continue
		}
		ds.Add(Entry{Channel: channel, Bin: i, X: h.Center(i), Weight: v})
	}
	return ds
}

// Add appends an entry.
func (d *Dataset) Add(e Entry) {
	d.Entries = append(d.Entries, e)
}

// Len returns the number of entries.
func (d *Dataset) Len() int {
	return len(d.Entries)
}

// SumWeights returns the total weight. NaN weights propagate.
func (d *Dataset) SumWeights() float64 {
	sum := 0.0
	for _, e := range d.Entries {
		sum += e.Weight
	}
	return sum
}

// Counts returns the summed weight per bin for one channel. Entries with a bin
// index outside [0, nbins) are ignored.
func (d *Dataset) Counts(channel string, nbins int) []float64 {
	counts := make([]float64, nbins)
	for _, e := range d.Entries {
		if e.Channel != channel || e.Bin < 0 || e.Bin >= nbins {
			continue
		}
		counts[e.Bin] += e.Weight
	}
	return counts
}

// Histogram bins the entries of one channel using the given edges.
func (d *Dataset) Histogram(channel string, edges []float64) *Histogram {
	h := New(channel, edges)
	copy(h.Values, d.Counts(channel, h.Len()))
	return h
}

// Channels returns the sorted set of channel names present in the dataset.
func (d *Dataset) Channels() []string {
	seen := make(map[string]struct{})
	for _, e := range d.Entries {
		seen[e.Channel] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HasNaN reports whether any entry weight is NaN.
func (d *Dataset) HasNaN() bool {
	return math.IsNaN(d.SumWeights())
}

// Copy creates a deep copy of the dataset.
func (d *Dataset) Copy() *Dataset {
	entries := make([]Entry, len(d.Entries))
	copy(entries, d.Entries)
	return &Dataset{Name: d.Name, Entries: entries}
}

// Combine merges per-channel datasets into one channel-indexed dataset.
func Combine(name string, parts ...*Dataset) *Dataset {
	out := NewDataset(name)
	for _, p := range parts {
		if p == nil {
			continue
		}
		out.Entries = append(out.Entries, p.Entries...)
	}
	return out
}
