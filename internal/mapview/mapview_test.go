package mapview

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/bcdatalab/equitymap/internal/model"
	"github.com/bcdatalab/equitymap/pkg/geocode"
)

func resolved(name string, lat, lng float64) geocode.Resolution {
	return geocode.Resolution{
		Name:   name,
		Key:    geocode.NormalizeKey(name),
		Record: &model.CoordinateRecord{Key: geocode.NormalizeKey(name), Latitude: lat, Longitude: lng},
	}
}

func failed(name string, kind geocode.FailureKind) geocode.Resolution {
	return geocode.Resolution{
		Name:    name,
		Key:     geocode.NormalizeKey(name),
		Failure: &geocode.Failure{Kind: kind},
	}
}

func TestBuild_Empty(t *testing.T) {
	data := Build(nil, nil)

	assert.Equal(t, [2]float64{CenterLat, CenterLng}, data.Viewport.Center)
	assert.Equal(t, DefaultZoom, data.Viewport.Zoom)
	assert.Empty(t, data.Features.Features)
	assert.Empty(t, data.Unresolved)
	assert.Empty(t, data.Legend)
}

func TestBuild_FeaturePerMunicipality(t *testing.T) {
	employers := []model.Employer{
		{Constituency: "Victoria-Beacon Hill", Organization: "Island Health", Municipality: "Victoria"},
		{Constituency: "Victoria-Beacon Hill", Organization: "BC Transit", Municipality: "Victoria"},
		{Constituency: "Vancouver-Point Grey", Organization: "UBC Properties Trust", Municipality: "Vancouver"},
	}
	resolutions := []geocode.Resolution{
		resolved("Victoria", 48.4284, -123.3656),
		resolved("Vancouver", 49.2827, -123.1207),
	}

	data := Build(employers, resolutions)
	require.Len(t, data.Features.Features, 2)

	// Features come out sorted by municipality name.
	van := data.Features.Features[0]
	vic := data.Features.Features[1]
	assert.Equal(t, "Vancouver", van.ID)
	assert.Equal(t, "Victoria", vic.ID)

	pt, ok := vic.Geometry.(*geom.Point)
	require.True(t, ok)
	assert.Equal(t, []float64{-123.3656, 48.4284}, pt.FlatCoords())

	assert.Equal(t, 2, vic.Properties["employer_count"])
	assert.Equal(t, 4, vic.Properties["radius"])
	assert.Equal(t, 1, van.Properties["employer_count"])
	assert.Equal(t, 2, van.Properties["radius"])
}

func TestBuild_RadiusCaps(t *testing.T) {
	var employers []model.Employer
	for i := 0; i < 12; i++ {
		employers = append(employers, model.Employer{
			Constituency: "Surrey-Whalley",
			Organization: "Employer",
			Municipality: "Surrey",
		})
	}

	data := Build(employers, []geocode.Resolution{resolved("Surrey", 49.1913, -122.8490)})
	require.Len(t, data.Features.Features, 1)
	assert.Equal(t, 20, data.Features.Features[0].Properties["radius"])
}

func TestBuild_ColorFollowsModalConstituency(t *testing.T) {
	employers := []model.Employer{
		{Constituency: "Burnaby North", Organization: "A", Municipality: "Burnaby"},
		{Constituency: "Burnaby South", Organization: "B", Municipality: "Burnaby"},
		{Constituency: "Burnaby South", Organization: "C", Municipality: "Burnaby"},
	}

	data := Build(employers, []geocode.Resolution{resolved("Burnaby", 49.2488, -122.9805)})
	require.Len(t, data.Features.Features, 1)

	// Burnaby North appeared first so it holds the first palette color, but
	// Burnaby South is the modal constituency for the marker.
	assert.Equal(t, "blue", data.Features.Features[0].Properties["color"])
}

func TestBuild_ModalTieBreaksAlphabetically(t *testing.T) {
	employers := []model.Employer{
		{Constituency: "Burnaby South", Organization: "A", Municipality: "Burnaby"},
		{Constituency: "Burnaby North", Organization: "B", Municipality: "Burnaby"},
	}

	data := Build(employers, []geocode.Resolution{resolved("Burnaby", 49.2488, -122.9805)})
	require.Len(t, data.Features.Features, 1)

	// South holds "red" (first appearance) but North wins the tie.
	assert.Equal(t, "blue", data.Features.Features[0].Properties["color"])
}

func TestBuild_BreakdownSamplesCapAtFive(t *testing.T) {
	names := []string{"Alpha", "Bravo", "Charlie", "Delta", "Echo", "Foxtrot", "Golf"}
	var employers []model.Employer
	for _, n := range names {
		employers = append(employers, model.Employer{
			Constituency: "Kamloops Centre",
			Organization: n,
			Municipality: "Kamloops",
		})
	}

	data := Build(employers, []geocode.Resolution{resolved("Kamloops", 50.6745, -120.3273)})
	require.Len(t, data.Features.Features, 1)

	breakdown, ok := data.Features.Features[0].Properties["breakdown"].([]ConstituencyGroup)
	require.True(t, ok)
	require.Len(t, breakdown, 1)
	assert.Equal(t, "Kamloops Centre", breakdown[0].Constituency)
	assert.Equal(t, 7, breakdown[0].Count)
	assert.Equal(t, []string{"Alpha", "Bravo", "Charlie", "Delta", "Echo"}, breakdown[0].Samples)
	assert.Equal(t, 2, breakdown[0].More)
}

func TestBuild_BreakdownSortedByConstituency(t *testing.T) {
	employers := []model.Employer{
		{Constituency: "Vancouver-Hastings", Organization: "B", Municipality: "Vancouver"},
		{Constituency: "Vancouver-Fairview", Organization: "A", Municipality: "Vancouver"},
	}

	data := Build(employers, []geocode.Resolution{resolved("Vancouver", 49.2827, -123.1207)})
	require.Len(t, data.Features.Features, 1)

	breakdown := data.Features.Features[0].Properties["breakdown"].([]ConstituencyGroup)
	require.Len(t, breakdown, 2)
	assert.Equal(t, "Vancouver-Fairview", breakdown[0].Constituency)
	assert.Equal(t, "Vancouver-Hastings", breakdown[1].Constituency)
}

func TestBuild_UnresolvedCarriesReason(t *testing.T) {
	employers := []model.Employer{
		{Constituency: "Stikine", Organization: "A", Municipality: "Telegraph Creek"},
		{Constituency: "Stikine", Organization: "B", Municipality: "Dease Lake"},
		{Constituency: "Stikine", Organization: "C", Municipality: "Atlin"},
	}
	resolutions := []geocode.Resolution{
		resolved("Atlin", 59.5780, -133.6926),
		failed("Telegraph Creek", geocode.FailureNotFound),
	}

	data := Build(employers, resolutions)
	require.Len(t, data.Features.Features, 1)
	require.Len(t, data.Unresolved, 2)

	assert.Equal(t, "Dease Lake", data.Unresolved[0].Municipality)
	assert.Equal(t, "not resolved", data.Unresolved[0].Reason)
	assert.Equal(t, "Telegraph Creek", data.Unresolved[1].Municipality)
	assert.Equal(t, "not_found", data.Unresolved[1].Reason)
	assert.Equal(t, 1, data.Unresolved[1].Employers)
}

func TestBuild_LegendFirstAppearanceOrder(t *testing.T) {
	employers := []model.Employer{
		{Constituency: "Victoria-Beacon Hill", Organization: "A", Municipality: "Victoria"},
		{Constituency: "Abbotsford West", Organization: "B", Municipality: "Abbotsford"},
		{Constituency: "Victoria-Beacon Hill", Organization: "C", Municipality: "Victoria"},
	}

	data := Build(employers, nil)
	require.Len(t, data.Legend, 2)

	assert.Equal(t, LegendEntry{Constituency: "Victoria-Beacon Hill", Color: "red", Count: 2}, data.Legend[0])
	assert.Equal(t, LegendEntry{Constituency: "Abbotsford West", Color: "blue", Count: 1}, data.Legend[1])
}

func TestBuild_PaletteWraps(t *testing.T) {
	var employers []model.Employer
	for i := 0; i < len(palette)+1; i++ {
		employers = append(employers, model.Employer{
			Constituency: string(rune('A' + i)),
			Organization: "X",
			Municipality: "Somewhere",
		})
	}

	data := Build(employers, nil)
	require.Len(t, data.Legend, len(palette)+1)
	assert.Equal(t, palette[0], data.Legend[0].Color)
	assert.Equal(t, palette[0], data.Legend[len(palette)].Color)
}

func TestBuild_MarshalsAsGeoJSON(t *testing.T) {
	employers := []model.Employer{
		{Constituency: "Victoria-Beacon Hill", Organization: "Island Health", Municipality: "Victoria"},
	}

	data := Build(employers, []geocode.Resolution{resolved("Victoria", 48.4284, -123.3656)})

	raw, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded struct {
		Features struct {
			Type     string `json:"type"`
			Features []struct {
				Type     string `json:"type"`
				Geometry struct {
					Type        string    `json:"type"`
					Coordinates []float64 `json:"coordinates"`
				} `json:"geometry"`
			} `json:"features"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "FeatureCollection", decoded.Features.Type)
	require.Len(t, decoded.Features.Features, 1)
	assert.Equal(t, "Feature", decoded.Features.Features[0].Type)
	assert.Equal(t, "Point", decoded.Features.Features[0].Geometry.Type)
	assert.Equal(t, []float64{-123.3656, 48.4284}, decoded.Features.Features[0].Geometry.Coordinates)
}
