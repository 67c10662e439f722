package boundary

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/bcdatalab/equitymap/internal/model"
	"github.com/bcdatalab/equitymap/internal/store"
)

// DefaultNameField is the shapefile attribute holding the electoral district
// name in the provincial boundary releases.
const DefaultNameField = "ED_NAME"

// LoadShapefile reads polygon records from a shapefile and converts each into
// a district carrying a GeoJSON feature string. nameField selects the
// attribute with the district name; empty means DefaultNameField. Records
// without a name or a usable polygon are skipped.
func LoadShapefile(path, nameField string) ([]model.District, error) {
	if nameField == "" {
		nameField = DefaultNameField
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	nameIdx := -1
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		if strings.EqualFold(name, nameField) {
			nameIdx = i
			break
		}
	}
	if nameIdx < 0 {
		return nil, eris.Errorf("boundary: shapefile has no %q field", nameField)
	}

	loadedAt := time.Now().UTC()
	var districts []model.District
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		name := strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		if name == "" {
			skipped++
			continue
		}

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}

		feature, err := EncodeFeature(name, poly)
		if err != nil || feature == "" {
			skipped++
			continue
		}

		districts = append(districts, model.District{
			Name:     name,
			Feature:  feature,
			LoadedAt: loadedAt,
		})
	}

	if skipped > 0 {
		zap.L().Debug("boundary: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}

	return districts, nil
}

// EncodeFeature converts one named polygon into a GeoJSON feature string.
// Returns "" for shapes with no usable rings.
func EncodeFeature(name string, poly *shp.Polygon) (string, error) {
	mp := multiPolygon(poly)
	if mp == nil {
		return "", nil
	}

	f := geojson.Feature{
		ID:         name,
		Geometry:   mp,
		Properties: map[string]interface{}{"name": name},
	}
	raw, err := f.MarshalJSON()
	if err != nil {
		return "", eris.Wrapf(err, "boundary: encode district %q", name)
	}
	return string(raw), nil
}

// multiPolygon walks the shapefile part index, one linear ring per part.
func multiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("boundary: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("boundary: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// Import loads a shapefile and upserts every district into the store,
// returning how many were written.
func Import(ctx context.Context, st store.Store, path, nameField string) (int, error) {
	districts, err := LoadShapefile(path, nameField)
	if err != nil {
		return 0, err
	}

	for _, d := range districts {
		if err := st.PutDistrict(ctx, d); err != nil {
			return 0, eris.Wrapf(err, "boundary: store district %q", d.Name)
		}
	}

	zap.L().Info("boundary: imported districts",
		zap.String("path", path),
		zap.Int("count", len(districts)),
	)
	return len(districts), nil
}

// FeatureCollection assembles stored district features into one GeoJSON
// FeatureCollection document.
func FeatureCollection(districts []model.District) ([]byte, error) {
	features := make([]json.RawMessage, 0, len(districts))
	for _, d := range districts {
		features = append(features, json.RawMessage(d.Feature))
	}

	doc := struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}{Type: "FeatureCollection", Features: features}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: encode feature collection")
	}
	return raw, nil
}
