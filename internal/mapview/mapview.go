package mapview

import (
	"sort"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/bcdatalab/equitymap/internal/model"
	"github.com/bcdatalab/equitymap/pkg/geocode"
)

// Default viewport framing the whole province.
const (
	CenterLat   = 53.7267
	CenterLng   = -127.6476
	DefaultZoom = 6
)

const (
	maxMarkerRadius    = 20
	maxSampleEmployers = 5
	markerFillOpacity  = 0.7
	markerWeight       = 2
)

// palette uses marker color names the front end styles directly. Constituencies
// are assigned colors in first-appearance order, wrapping when exhausted.
var palette = []string{
	"red", "blue", "green", "purple", "orange", "darkred", "lightred",
	"beige", "darkblue", "darkgreen", "cadetblue", "darkpurple", "white",
	"pink", "lightblue", "lightgreen", "gray", "black", "lightgray",
}

// Viewport positions the initial map view.
type Viewport struct {
	Center [2]float64 `json:"center"` // lat, lng
	Zoom   int        `json:"zoom"`
}

// ConstituencyGroup summarizes one constituency's employers at a municipality
// marker: a count, up to five sample organization names, and how many more
// were left out.
type ConstituencyGroup struct {
	Constituency string   `json:"constituency"`
	Count        int      `json:"count"`
	Samples      []string `json:"samples"`
	More         int      `json:"more,omitempty"`
}

// LegendEntry maps a constituency to its marker color.
type LegendEntry struct {
	Constituency string `json:"constituency"`
	Color        string `json:"color"`
	Count        int    `json:"count"`
}

// Unresolved names a municipality that could not be placed on the map.
type Unresolved struct {
	Municipality string `json:"municipality"`
	Employers    int    `json:"employers"`
	Reason       string `json:"reason"`
}

// MapData is everything the map front end needs for one filtered view.
type MapData struct {
	Viewport   Viewport                   `json:"viewport"`
	Features   *geojson.FeatureCollection `json:"features"`
	Unresolved []Unresolved               `json:"unresolved,omitempty"`
	Legend     []LegendEntry              `json:"legend"`
}

// Build assembles map data for a filtered employer set. Each municipality with
// coordinates becomes one GeoJSON point feature sized by employer count and
// colored by its most common constituency. Municipalities the resolver could
// not place are reported in Unresolved rather than silently dropped.
func Build(employers []model.Employer, resolutions []geocode.Resolution) MapData {
	data := MapData{
		Viewport: Viewport{Center: [2]float64{CenterLat, CenterLng}, Zoom: DefaultZoom},
		Features: &geojson.FeatureCollection{Features: []*geojson.Feature{}},
	}
	if len(employers) == 0 {
		return data
	}

	records := make(map[string]*model.CoordinateRecord)
	reasons := make(map[string]string)
	for _, res := range resolutions {
		switch {
		case res.Record != nil:
			records[res.Name] = res.Record
		case res.Failure != nil:
			reasons[res.Name] = string(res.Failure.Kind)
		}
	}

	colors, order := assignColors(employers)

	groups := make(map[string][]model.Employer)
	for _, emp := range employers {
		groups[emp.Municipality] = append(groups[emp.Municipality], emp)
	}
	munis := make([]string, 0, len(groups))
	for m := range groups {
		munis = append(munis, m)
	}
	sort.Strings(munis)

	for _, municipality := range munis {
		group := groups[municipality]

		rec, ok := records[municipality]
		if !ok {
			reason := reasons[municipality]
			if reason == "" {
				reason = "not resolved"
			}
			data.Unresolved = append(data.Unresolved, Unresolved{
				Municipality: municipality,
				Employers:    len(group),
				Reason:       reason,
			})
			continue
		}

		data.Features.Features = append(data.Features.Features, &geojson.Feature{
			ID:       municipality,
			Geometry: geom.NewPointFlat(geom.XY, []float64{rec.Longitude, rec.Latitude}).SetSRID(4326),
			Properties: map[string]interface{}{
				"municipality":   municipality,
				"employer_count": len(group),
				"radius":         markerRadius(len(group)),
				"color":          colors[modalConstituency(group)],
				"fill_opacity":   markerFillOpacity,
				"weight":         markerWeight,
				"breakdown":      constituencyGroups(group),
			},
		})
	}

	counts := make(map[string]int)
	for _, emp := range employers {
		counts[emp.Constituency]++
	}
	for _, constituency := range order {
		data.Legend = append(data.Legend, LegendEntry{
			Constituency: constituency,
			Color:        colors[constituency],
			Count:        counts[constituency],
		})
	}

	return data
}

// assignColors gives each constituency a palette color in first-appearance
// order and returns that order for the legend.
func assignColors(employers []model.Employer) (map[string]string, []string) {
	colors := make(map[string]string)
	var order []string
	for _, emp := range employers {
		if _, ok := colors[emp.Constituency]; ok {
			continue
		}
		colors[emp.Constituency] = palette[len(order)%len(palette)]
		order = append(order, emp.Constituency)
	}
	return colors, order
}

// modalConstituency picks the most common constituency in a municipality
// group, ties broken alphabetically.
func modalConstituency(group []model.Employer) string {
	counts := make(map[string]int)
	for _, emp := range group {
		counts[emp.Constituency]++
	}

	var best string
	bestN := -1
	for constituency, n := range counts {
		if n > bestN || (n == bestN && constituency < best) {
			best, bestN = constituency, n
		}
	}
	return best
}

func markerRadius(count int) int {
	if r := count * 2; r < maxMarkerRadius {
		return r
	}
	return maxMarkerRadius
}

func constituencyGroups(group []model.Employer) []ConstituencyGroup {
	orgs := make(map[string][]string)
	for _, emp := range group {
		orgs[emp.Constituency] = append(orgs[emp.Constituency], emp.Organization)
	}
	names := make([]string, 0, len(orgs))
	for constituency := range orgs {
		names = append(names, constituency)
	}
	sort.Strings(names)

	out := make([]ConstituencyGroup, 0, len(names))
	for _, constituency := range names {
		members := orgs[constituency]
		cg := ConstituencyGroup{Constituency: constituency, Count: len(members)}
		if len(members) > maxSampleEmployers {
			cg.Samples = members[:maxSampleEmployers]
			cg.More = len(members) - maxSampleEmployers
		} else {
			cg.Samples = members
		}
		out = append(out, cg)
	}
	return out
}
