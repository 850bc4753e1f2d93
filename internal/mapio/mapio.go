// Package mapio loads base occupancy maps from disk and writes working grids
// back out as images.
//
// A map is either a bare PGM, laid out with world (0, 0) at the image centre,
// or a YAML metadata file in the map_server format naming the image:
//
//	image: site.pgm
//	resolution: 0.05
//	origin: [-10.0, -10.0, 0.0]
//	occupied_below: 125
//
// origin is the world position of the image's bottom-left corner.
package mapio

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/navstack/internal/monitoring"
	"github.com/banshee-data/navstack/internal/nav/l1geometry"
	"github.com/banshee-data/navstack/internal/nav/l2grid"
)

// DefaultOccupiedBelow is the pixel value under which a cell is an obstacle.
const DefaultOccupiedBelow = 125

// Metadata is the YAML sidecar describing a map image.
type Metadata struct {
	Image         string    `yaml:"image"`
	Resolution    float64   `yaml:"resolution"`
	Origin        []float64 `yaml:"origin"` // x, y[, yaw]; yaw is ignored
	OccupiedBelow int       `yaml:"occupied_below,omitempty"`
}

func (m Metadata) validate() error {
	if m.Image == "" {
		return errors.New("map metadata has no image")
	}
	if !(m.Resolution > 0) {
		return fmt.Errorf("map resolution must be positive, got %v", m.Resolution)
	}
	if m.Origin != nil && len(m.Origin) < 2 {
		return fmt.Errorf("map origin needs at least x and y, got %v", m.Origin)
	}
	if m.OccupiedBelow < 0 || m.OccupiedBelow > 256 {
		return fmt.Errorf("occupied_below must be in [0, 256], got %d", m.OccupiedBelow)
	}
	return nil
}

// Map is a loaded base map.
type Map struct {
	Raster  *l2grid.Raster
	Mapping l1geometry.GridMapping
	Meta    Metadata
}

// Mapping derives the grid mapping for an image of rows x cols. Without an
// origin the world origin sits at the image centre.
func (m Metadata) Mapping(rows, cols int) l1geometry.GridMapping {
	if len(m.Origin) < 2 {
		return l1geometry.CenteredMapping(rows, cols, m.Resolution)
	}
	ox, oy := m.Origin[0], m.Origin[1]
	return l1geometry.GridMapping{
		Resolution: m.Resolution,
		OriginRow:  float64(rows) - 0.5 + oy/m.Resolution,
		OriginCol:  -ox/m.Resolution - 0.5,
		Rows:       rows,
		Cols:       cols,
	}
}

// Threshold converts an image into a raster: samples below occupiedBelow
// become obstacles and everything else is free.
// Samples are compared after scaling to 8 bits, whatever the image's depth.
func Threshold(im image.Image, occupiedBelow int) (*l2grid.Raster, error) {
	b := im.Bounds()
	rows, cols := b.Dy(), b.Dx()
	cells := make([]uint8, rows*cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			cells[row*cols+col] = l2grid.Free
			if int(gray8(im, row, col)) < occupiedBelow {
				cells[row*cols+col] = l2grid.Obstacle
			}
		}
	}
	return l2grid.RasterFromCells(rows, cols, cells)
}

// Load reads a map from fsys. name is either a .yaml/.yml metadata file or a
// bare .pgm; a bare image needs the resolution supplied.
func Load(fsys fs.FS, name string, resolution float64) (*Map, error) {
	meta := Metadata{Image: name, Resolution: resolution}
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read map metadata: %w", err)
		}
		meta = Metadata{}
		if err := yaml.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("failed to parse map metadata %s: %w", name, err)
		}
		if path.IsAbs(meta.Image) {
			return nil, fmt.Errorf("map image %q must be relative to the metadata file", meta.Image)
		}
		if meta.Image != "" {
			meta.Image = path.Join(path.Dir(name), meta.Image)
		}
	}
	if meta.OccupiedBelow == 0 {
		meta.OccupiedBelow = DefaultOccupiedBelow
	}
	if err := meta.validate(); err != nil {
		return nil, err
	}

	f, err := fsys.Open(meta.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to open map image: %w", err)
	}
	defer f.Close()
	im, err := DecodePGM(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", meta.Image, err)
	}

	raster, err := Threshold(im, meta.OccupiedBelow)
	if err != nil {
		return nil, err
	}
	m := &Map{Raster: raster, Mapping: meta.Mapping(raster.Rows, raster.Cols), Meta: meta}
	monitoring.Logf("[mapio] loaded %s: %dx%d cells at %.3fm, %d obstacles",
		meta.Image, raster.Rows, raster.Cols, meta.Resolution, raster.ObstacleCount())
	return m, nil
}

// LoadFile is Load against the host filesystem.
func LoadFile(name string, resolution float64) (*Map, error) {
	dir, base := filepath.Split(filepath.Clean(name))
	if dir == "" {
		dir = "."
	}
	return Load(os.DirFS(dir), base, resolution)
}

// SaveMap writes r as a raw PGM, creating parent directories.
func SaveMap(name string, r *l2grid.Raster) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("failed to create map directory: %w", err)
	}
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create map file: %w", err)
	}
	if err := EncodePGM(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to write map file: %w", err)
	}
	return f.Close()
}
