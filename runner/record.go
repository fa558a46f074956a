package runner

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
)

// Record is the result row of one run. Quantities that were not computed
// (blinded, disabled) are NaN.
type Record struct {
	Point float64 `json:"point"`

	CLbMed      float64 `json:"CLb_med"`
	PbMed       float64 `json:"pb_med"`
	CLsMed      float64 `json:"CLs_med"`
	CLsPlusBMed float64 `json:"CLsplusb_med"`
	CLbObs      float64 `json:"CLb_obs"`
	PbObs       float64 `json:"pb_obs"`
	CLsObs      float64 `json:"CLs_obs"`
	CLsPlusBObs float64 `json:"CLsplusb_obs"`

	ObsUpperLimit   float64 `json:"obs_upperlimit"`
	InjUpperLimit   float64 `json:"inj_upperlimit"`
	ExpUpperLimit   float64 `json:"exp_upperlimit"`
	ExpUpperLimitP1 float64 `json:"exp_upperlimit_plus1"`
	ExpUpperLimitP2 float64 `json:"exp_upperlimit_plus2"`
	ExpUpperLimitM1 float64 `json:"exp_upperlimit_minus1"`
	ExpUpperLimitM2 float64 `json:"exp_upperlimit_minus2"`
	FitStatus       int     `json:"fit_status"`
	MuHatObs        float64 `json:"mu_hat_obs"`
	MuHatExp        float64 `json:"mu_hat_exp"`
	PValueExp       float64 `json:"p0_exp"`
	PValueObs       float64 `json:"p0_obs"`
	SignificanceExp float64 `json:"z0_exp"`
	SignificanceObs float64 `json:"z0_obs"`

	// ParamsHat and ParamsMed hold the nuisance parameters at the observed
	// and expected unconditional fits.
	ParamsHat map[string]float64 `json:"-"`
	ParamsMed map[string]float64 `json:"-"`
}

var fixedColumns = []string{
	"point",
	"CLb_med", "pb_med", "CLs_med", "CLsplusb_med",
	"CLb_obs", "pb_obs", "CLs_obs", "CLsplusb_obs",
	"obs_upperlimit", "inj_upperlimit", "exp_upperlimit",
	"exp_upperlimit_plus1", "exp_upperlimit_plus2", "exp_upperlimit_minus1", "exp_upperlimit_minus2",
	"fit_status", "mu_hat_obs", "mu_hat_exp",
	"p0_exp", "p0_obs", "z0_exp", "z0_obs",
}

// NewRecord returns a record for point with every quantity unset.
func NewRecord(point float64) *Record {
	nan := math.NaN()
	return &Record{
		Point:  point,
		CLbMed: nan, PbMed: nan, CLsMed: nan, CLsPlusBMed: nan,
		CLbObs: nan, PbObs: nan, CLsObs: nan, CLsPlusBObs: nan,
		ObsUpperLimit: nan, InjUpperLimit: nan, ExpUpperLimit: nan,
		ExpUpperLimitP1: nan, ExpUpperLimitP2: nan, ExpUpperLimitM1: nan, ExpUpperLimitM2: nan,
		MuHatObs: nan, MuHatExp: nan,
		PValueExp: nan, PValueObs: nan, SignificanceExp: nan, SignificanceObs: nan,
		ParamsHat: map[string]float64{},
		ParamsMed: map[string]float64{},
	}
}

func (r *Record) fixedValues() []float64 {
	return []float64{
		r.Point,
		r.CLbMed, r.PbMed, r.CLsMed, r.CLsPlusBMed,
		r.CLbObs, r.PbObs, r.CLsObs, r.CLsPlusBObs,
		r.ObsUpperLimit, r.InjUpperLimit, r.ExpUpperLimit,
		r.ExpUpperLimitP1, r.ExpUpperLimitP2, r.ExpUpperLimitM1, r.ExpUpperLimitM2,
		float64(r.FitStatus), r.MuHatObs, r.MuHatExp,
		r.PValueExp, r.PValueObs, r.SignificanceExp, r.SignificanceObs,
	}
}

// paramNames returns the sorted union of the nuisance parameter names.
func (r *Record) paramNames() []string {
	var names []string
	for n := range r.ParamsHat {
		names = append(names, n)
	}
	for n := range r.ParamsMed {
		if _, ok := r.ParamsHat[n]; !ok {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names
}

// Header returns the column names of the record.
func (r *Record) Header() []string {
	h := slices.Clone(fixedColumns)
	for _, n := range r.paramNames() {
		h = append(h, "param_"+n+"_hat", "param_"+n+"_med")
	}
	return h
}

// Row formats the record in Header order.
func (r *Record) Row() []string {
	row := make([]string, 0, len(fixedColumns))
	for i, v := range r.fixedValues() {
		if fixedColumns[i] == "fit_status" {
			row = append(row, strconv.Itoa(r.FitStatus))
			continue
		}
		row = append(row, formatFloat(v))
	}
	for _, n := range r.paramNames() {
		row = append(row, formatParam(r.ParamsHat, n), formatParam(r.ParamsMed, n))
	}
	return row
}

func formatParam(m map[string]float64, name string) string {
	v, ok := m[name]
	if !ok {
		return formatFloat(math.NaN())
	}
	return formatFloat(v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}

// MarshalJSON writes the record as a flat object; unset values become null.
func (r *Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(fixedColumns))
	for i, v := range r.fixedValues() {
		out[fixedColumns[i]] = jsonFloat(v)
	}
	out["fit_status"] = r.FitStatus
	for _, n := range r.paramNames() {
		out["param_"+n+"_hat"] = jsonFloat(paramOrNaN(r.ParamsHat, n))
		out["param_"+n+"_med"] = jsonFloat(paramOrNaN(r.ParamsMed, n))
	}
	return json.Marshal(out)
}

func paramOrNaN(m map[string]float64, name string) float64 {
	if v, ok := m[name]; ok {
		return v
	}
	return math.NaN()
}

func jsonFloat(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// WriteCSV writes the records with the header of the first one.
func WriteCSV(w io.Writer, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	cw := csv.NewWriter(w)
	header := records[0].Header()
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, r := range records {
		row := r.Row()
		if len(row) != len(header) {
			return fmt.Errorf("record %d: %d columns, header has %d", i, len(row), len(header))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write record %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the records as an indented JSON array.
func WriteJSON(w io.Writer, records []*Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
