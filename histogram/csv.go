package histogram

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// CSVOptions holds options for CSV loading.
type CSVOptions struct {
	ChannelColumn string // Column name for the channel (default: "channel")
	BinColumn     string // Column name for the bin index (default: "bin")
	CountColumn   string // Column name for the bin content (default: "count")
	Channel       string // Channel used when the file has no channel column
	HasHeader     bool   // Whether CSV has header row (default: true)
	Delimiter     rune   // Field delimiter (default: ',')
	SkipRows      int    // Number of rows to skip at start
}

// DefaultCSVOptions returns default options for CSV loading.
func DefaultCSVOptions() *CSVOptions {
	return &CSVOptions{
		ChannelColumn: "channel",
		BinColumn:     "bin",
		CountColumn:   "count",
		Channel:       "channel0",
		HasHeader:     true,
		Delimiter:     ',',
	}
}

// LoadCSV loads a dataset from a CSV file.
func LoadCSV(filename string, opts *CSVOptions) (*Dataset, error) {
	if opts == nil {
		opts = DefaultCSVOptions()
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return LoadCSVFromReader(file, opts)
}

// LoadCSVFromReader loads a dataset from an io.Reader.
func LoadCSVFromReader(r io.Reader, opts *CSVOptions) (*Dataset, error) {
	if opts == nil {
		opts = DefaultCSVOptions()
	}

	reader := csv.NewReader(r)
	reader.Comma = opts.Delimiter
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	for i := 0; i < opts.SkipRows; i++ {
		if _, err := reader.Read(); err != nil {
			return nil, err
		}
	}

	chanIdx, binIdx, countIdx := -1, -1, -1

	if opts.HasHeader {
		header, err := reader.Read()
		if err != nil {
			return nil, err
		}
		for i, h := range header {
			h = strings.TrimSpace(strings.Trim(h, "\""))
			switch {
			case h == opts.ChannelColumn || h == "region" || h == "category":
				if chanIdx == -1 {
					chanIdx = i
				}
			case h == opts.BinColumn:
				binIdx = i
			case h == opts.CountColumn || h == "n" || h == "weight":
				if countIdx == -1 {
					countIdx = i
				}
			}
		}
		if countIdx == -1 {
			countIdx = len(header) - 1
		}
	} else {
		// channel,bin,count or bin,count
		binIdx, countIdx = 0, 1
	}

	ds := NewDataset("obsData")
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row++

		if !opts.HasHeader && len(record) >= 3 {
			chanIdx, binIdx, countIdx = 0, 1, 2
		}

		channel := opts.Channel
		if chanIdx >= 0 && chanIdx < len(record) {
			channel = strings.TrimSpace(strings.Trim(record[chanIdx], "\""))
		}

		bin := row - 1
		if binIdx >= 0 && binIdx < len(record) {
			b, err := strconv.Atoi(strings.TrimSpace(record[binIdx]))
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid bin index %q", row, record[binIdx])
			}
			bin = b
		}

		if countIdx < 0 || countIdx >= len(record) {
			continue
		}
		valStr := strings.TrimSpace(strings.Trim(record[countIdx], "\""))
		if valStr == "" || valStr == "NA" || valStr == "NaN" || valStr == "null" {
			continue
		}
		val, err := strconv.ParseFloat(valStr, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid count %q", row, valStr)
		}
		if val < 0 {
			return nil, fmt.Errorf("row %d: negative count %g", row, val)
		}
		ds.Add(Entry{Channel: channel, Bin: bin, X: float64(bin), Weight: val})
	}

	if ds.Len() == 0 {
		return nil, errors.New("no valid data found in CSV")
	}

	return ds, nil
}

// SaveCSV writes a dataset as channel,bin,x,weight rows.
func SaveCSV(ds *Dataset, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := WriteCSV(file, ds); err != nil {
		return err
	}
	return file.Close()
}

// WriteCSV writes a dataset to w.
func WriteCSV(w io.Writer, ds *Dataset) error {
	writer := bufio.NewWriter(w)

	if _, err := writer.WriteString("channel,bin,x,count\n"); err != nil {
		return err
	}
	for _, e := range ds.Entries {
		writer.WriteString(e.Channel)
		writer.WriteString(",")
		writer.WriteString(strconv.Itoa(e.Bin))
		writer.WriteString(",")
		writer.WriteString(strconv.FormatFloat(e.X, 'g', -1, 64))
		writer.WriteString(",")
		writer.WriteString(strconv.FormatFloat(e.Weight, 'g', -1, 64))
		writer.WriteString("\n")
	}

	return writer.Flush()
}
