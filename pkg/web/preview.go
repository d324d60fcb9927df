package web

import (
	"bytes"
	"html/template"

	"github.com/terrycain/tiles-server/pkg/pmtiles"
	"github.com/terrycain/tiles-server/pkg/s"
)

const (
	previewColor   = "#000000"
	previewOpacity = 0.7
)

// StyleLayer is one MapLibre style layer.
type StyleLayer struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Source      string                 `json:"source"`
	SourceLayer string                 `json:"source-layer"`
	Paint       map[string]interface{} `json:"paint"`
}

type Preview struct {
	ID      string
	MinZoom int
	MaxZoom int
	Layers  []StyleLayer
}

func layerType(geometry string) string {
	switch geometry {
	case "Point":
		return "circle"
	case "Polygon":
		return "fill"
	default:
		return "line"
	}
}

// ZoomBounds folds the vector layers' zoom ranges. Archives without vector
// layers fall back to the header's zoom range.
func ZoomBounds(metadata s.ArchiveMetadata, header pmtiles.Header) (int, int) {
	if len(metadata.VectorLayers) == 0 {
		return int(header.MinZoom), int(header.MaxZoom)
	}
	minZoom, maxZoom := 24, 0
	for _, layer := range metadata.VectorLayers {
		if layer.MinZoom < minZoom {
			minZoom = layer.MinZoom
		}
		if layer.MaxZoom > maxZoom {
			maxZoom = layer.MaxZoom
		}
	}
	return minZoom, maxZoom
}

// StyleLayers draws one layer per tilestats layer, or per vector layer when
// the archive carries no tilestats.
func StyleLayers(metadata s.ArchiveMetadata) []StyleLayer {
	type named struct{ id, geometry string }
	var sources []named
	for _, layer := range metadata.TileStats.Layers {
		sources = append(sources, named{layer.Layer, layer.Geometry})
	}
	if len(sources) == 0 {
		for _, layer := range metadata.VectorLayers {
			sources = append(sources, named{layer.ID, ""})
		}
	}

	layers := make([]StyleLayer, 0, len(sources))
	for _, src := range sources {
		kind := layerType(src.geometry)
		layers = append(layers, StyleLayer{
			ID:          src.id,
			Type:        kind,
			Source:      "tile",
			SourceLayer: src.id,
			Paint: map[string]interface{}{
				kind + "-color":   previewColor,
				kind + "-opacity": previewOpacity,
			},
		})
	}
	return layers
}

var previewTemplate = template.Must(template.New("preview").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8" />
  <title>{{ .ID }}</title>
  <script src="https://unpkg.com/maplibre-gl@3.3.1/dist/maplibre-gl.js"></script>
  <link rel="stylesheet" href="https://unpkg.com/maplibre-gl@3.3.1/dist/maplibre-gl.css" />
  <style>
    body { margin: 0; padding: 0; }
    #map { position: absolute; top: 0; bottom: 0; width: 100%; }
  </style>
</head>
<body>
  <div id="map" style="height: 100vh"></div>
  <script>
    const tileUrl = window.location.origin + {{ printf "/tiles/%s/{z}/{x}/{y}" .ID }};
    const map = new maplibregl.Map({
      hash: true,
      container: 'map',
      style: {
        version: 8,
        sources: {
          tile: {
            type: 'vector',
            tiles: [tileUrl],
            minzoom: {{ .MinZoom }},
            maxzoom: {{ .MaxZoom }},
          },
        },
        layers: {{ .Layers }},
      },
      center: [0, 0],
      zoom: 1,
    });
  </script>
</body>
</html>
`))

var listingTemplate = template.Must(template.New("listing").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8" />
  <title>tiles-server</title>
</head>
<body>
{{- range . }}
  <a href="/tiles/{{ . }}">{{ . }}</a><br/>
{{- end }}
</body>
</html>
`))

func renderTemplate(t *template.Template, data interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
