package dataset

import (
	"encoding/csv"
	"io"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/bcdatalab/equitymap/internal/model"
)

// csvHeader mirrors the roster's source column names.
var csvHeader = []string{"constituency", "organization_name", "municipality_name", "postal_code", "email"}

// Roster holds the loaded employer dataset in file order.
type Roster struct {
	employers []model.Employer
}

// NewRoster wraps an employer slice, for callers that already have rows.
func NewRoster(employers []model.Employer) *Roster {
	return &Roster{employers: employers}
}

// Load reads the employer roster from an XLSX workbook. The first sheet is
// used and its header row skipped. Rows without an organization name are
// dropped, every field is trimmed, and a blank municipality becomes
// "Unknown" so those employers still group somewhere on the map.
func Load(path string) (*Roster, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "dataset: open roster")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("dataset: roster workbook has no sheets")
	}

	var employers []model.Employer
	for i, row := range f.Sheets[0].Rows {
		if i == 0 {
			continue
		}
		emp := rowToEmployer(row)
		if emp.Organization == "" {
			continue
		}
		employers = append(employers, emp)
	}

	return &Roster{employers: employers}, nil
}

// rowToEmployer maps the first five cells by position: constituency,
// organization, municipality, postal code, email.
func rowToEmployer(row *xlsx.Row) model.Employer {
	cells := make([]string, 5)
	for j, cell := range row.Cells {
		if j >= len(cells) {
			break
		}
		cells[j] = strings.TrimSpace(cell.String())
	}

	emp := model.Employer{
		Constituency: cells[0],
		Organization: cells[1],
		Municipality: cells[2],
		PostalCode:   cells[3],
		Email:        cells[4],
	}
	if emp.Municipality == "" {
		emp.Municipality = "Unknown"
	}
	return emp
}

// All returns every employer in roster order.
func (r *Roster) All() []model.Employer {
	return r.employers
}

// Len reports the number of employers.
func (r *Roster) Len() int {
	return len(r.employers)
}

// Filter selects employers. Zero-valued fields match everything.
type Filter struct {
	Constituency string // exact match
	Municipality string // exact match
	Search       string // case-insensitive substring on the organization name
}

// Filter returns the employers matching f, preserving roster order.
func (r *Roster) Filter(f Filter) []model.Employer {
	search := strings.ToLower(f.Search)

	var out []model.Employer
	for _, emp := range r.employers {
		if f.Constituency != "" && emp.Constituency != f.Constituency {
			continue
		}
		if f.Municipality != "" && emp.Municipality != f.Municipality {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(emp.Organization), search) {
			continue
		}
		out = append(out, emp)
	}
	return out
}

// Constituencies returns every constituency present, sorted.
func (r *Roster) Constituencies() []string {
	seen := make(map[string]bool)
	var out []string
	for _, emp := range r.employers {
		if !seen[emp.Constituency] {
			seen[emp.Constituency] = true
			out = append(out, emp.Constituency)
		}
	}
	sort.Strings(out)
	return out
}

// Municipalities returns the municipalities present, sorted. A non-empty
// constituency restricts the list to that constituency's employers.
func (r *Roster) Municipalities(constituency string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, emp := range r.employers {
		if constituency != "" && emp.Constituency != constituency {
			continue
		}
		if !seen[emp.Municipality] {
			seen[emp.Municipality] = true
			out = append(out, emp.Municipality)
		}
	}
	sort.Strings(out)
	return out
}

// Municipalities returns the unique municipality names across employers in
// first-appearance order. Geocoding batches are built from this, so the
// resolver sees names in the same order a reader sees rows.
func Municipalities(employers []model.Employer) []string {
	seen := make(map[string]bool)
	var out []string
	for _, emp := range employers {
		if !seen[emp.Municipality] {
			seen[emp.Municipality] = true
			out = append(out, emp.Municipality)
		}
	}
	return out
}

// ConstituencyCount is one row of a summary breakdown.
type ConstituencyCount struct {
	Constituency string `json:"constituency"`
	Count        int    `json:"count"`
}

// Summary aggregates a set of employers.
type Summary struct {
	Employers      int                 `json:"employers"`
	Municipalities int                 `json:"municipalities"`
	Constituencies []ConstituencyCount `json:"constituencies"`
}

// Summarize counts employers overall and per constituency. The breakdown is
// ordered by count descending, ties broken alphabetically.
func Summarize(employers []model.Employer) Summary {
	counts := make(map[string]int)
	munis := make(map[string]bool)
	for _, emp := range employers {
		counts[emp.Constituency]++
		munis[emp.Municipality] = true
	}

	breakdown := make([]ConstituencyCount, 0, len(counts))
	for constituency, n := range counts {
		breakdown = append(breakdown, ConstituencyCount{Constituency: constituency, Count: n})
	}
	sort.Slice(breakdown, func(i, j int) bool {
		if breakdown[i].Count != breakdown[j].Count {
			return breakdown[i].Count > breakdown[j].Count
		}
		return breakdown[i].Constituency < breakdown[j].Constituency
	})

	return Summary{
		Employers:      len(employers),
		Municipalities: len(munis),
		Constituencies: breakdown,
	}
}

// WriteCSV writes employers as CSV using the roster's source column names.
func WriteCSV(w io.Writer, employers []model.Employer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return eris.Wrap(err, "dataset: write csv header")
	}
	for _, emp := range employers {
		rec := []string{emp.Constituency, emp.Organization, emp.Municipality, emp.PostalCode, emp.Email}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "dataset: write csv row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "dataset: flush csv")
	}
	return nil
}
