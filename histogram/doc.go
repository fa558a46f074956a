// Package histogram provides the binned data structures the limit engine works on.
//
// A Histogram holds bin edges and per-bin values for one observable. A Dataset is a
// collection of weighted entries tagged with the channel (category) they belong to,
// which is how both observed counts and Asimov datasets are represented.
//
// # Basic Usage
//
// Build a histogram and inspect it:
//
//	h := histogram.New("signal_region", []float64{0, 1, 2})
//	h.Values = []float64{10, 12}
//	fmt.Printf("total=%.1f width(0)=%.1f\n", h.Sum(), h.Width(0))
//
// Build a dataset from observed counts:
//
//	ds := histogram.NewDataset("obsData")
//	ds.Add(histogram.Entry{Channel: "SR", Bin: 0, Weight: 11})
//	ds.Add(histogram.Entry{Channel: "SR", Bin: 1, Weight: 9})
//	counts := ds.Counts("SR", 2)
//
// # CSV
//
// Observed data can be loaded from CSV files with channel, bin and count columns:
//
//	ds, err := histogram.LoadCSV("data.csv", nil)
//
// and written back with SaveCSV. Bins that carry no entry are treated as empty.
package histogram
