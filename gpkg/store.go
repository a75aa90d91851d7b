// Package gpkg persists pyramids in a GeoPackage. Every pyramid is a tile
// table registered in gpkg_contents, gpkg_tile_matrix_set and
// gpkg_tile_matrix; the exact mosaic geometry, which GeoPackage cannot
// express (slices, per mosaic origin, sample model), lives in the
// pyramid_mosaics table.
package gpkg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/gpkg"
	"github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/tingold/pyramid"
)

// ErrNoSpatialite is returned by Open when sqlite cannot load the
// mod_spatialite extension the GeoPackage driver connects with.
var ErrNoSpatialite = errors.New("spatialite extension not available")

type settings struct {
	log logrus.FieldLogger
}

// Option configures Open.
type Option func(*settings)

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *settings) {
		if log != nil {
			s.log = log
		}
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS gpkg_contents (
	table_name TEXT NOT NULL PRIMARY KEY,
	data_type TEXT NOT NULL,
	identifier TEXT UNIQUE,
	description TEXT DEFAULT '',
	last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
	srs_id INTEGER
);
CREATE TABLE IF NOT EXISTS gpkg_tile_matrix_set (
	table_name TEXT NOT NULL PRIMARY KEY,
	srs_id INTEGER NOT NULL,
	min_x DOUBLE NOT NULL, min_y DOUBLE NOT NULL, max_x DOUBLE NOT NULL, max_y DOUBLE NOT NULL
);
CREATE TABLE IF NOT EXISTS gpkg_tile_matrix (
	table_name TEXT NOT NULL,
	zoom_level INTEGER NOT NULL,
	matrix_width INTEGER NOT NULL,
	matrix_height INTEGER NOT NULL,
	tile_width INTEGER NOT NULL,
	tile_height INTEGER NOT NULL,
	pixel_x_size DOUBLE NOT NULL,
	pixel_y_size DOUBLE NOT NULL,
	CONSTRAINT pk_ttm PRIMARY KEY (table_name, zoom_level)
);
CREATE TABLE IF NOT EXISTS pyramid_pyramids (
	pyramid_id TEXT NOT NULL PRIMARY KEY,
	table_name TEXT NOT NULL UNIQUE,
	crs TEXT NOT NULL UNIQUE COLLATE NOCASE,
	position INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS pyramid_mosaics (
	mosaic_id TEXT NOT NULL PRIMARY KEY,
	pyramid_id TEXT NOT NULL REFERENCES pyramid_pyramids(pyramid_id),
	zoom_level INTEGER NOT NULL,
	slice TEXT NOT NULL DEFAULT '',
	upper_left_x DOUBLE NOT NULL,
	upper_left_y DOUBLE NOT NULL,
	grid_width INTEGER NOT NULL,
	grid_height INTEGER NOT NULL,
	tile_width INTEGER NOT NULL,
	tile_height INTEGER NOT NULL,
	scale DOUBLE NOT NULL,
	bands INTEGER,
	sample_type TEXT,
	nodata DOUBLE,
	UNIQUE (pyramid_id, zoom_level),
	UNIQUE (pyramid_id, slice, scale)
);
`

// Store is a writable pyramid store backed by a GeoPackage file.
type Store struct {
	pyramid.Notifier

	path string
	h    *gpkg.Handle
	set  *pyramid.PyramidSet
	log  logrus.FieldLogger

	// mu guards the maps; sqlite itself is used through one connection.
	mu      sync.RWMutex
	tables  map[string]string // pyramid ID to tile table
	zooms   map[string]int    // mosaic ID to zoom level
	present map[string]map[pyramid.TilePos]struct{}
}

// Open opens or creates the GeoPackage at path and loads its pyramids.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := settings{log: logrus.StandardLogger()}
	for _, o := range opts {
		o(&cfg)
	}

	h, err := gpkg.Open(path)
	if err != nil {
		if strings.Contains(err.Error(), "spatialite extension not found") {
			err = fmt.Errorf("%w: %w", ErrNoSpatialite, err)
		}
		return nil, fmt.Errorf("failed to open GeoPackage %s: %w", path, err)
	}
	// sqlite allows a single writer; one connection never sees SQLITE_BUSY
	h.SetMaxOpenConns(1)

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	s := &Store{
		path:    path,
		h:       h,
		set:     pyramid.NewPyramidSet(name, "png", "zstd"),
		log:     cfg.log.WithField("gpkg", path),
		tables:  make(map[string]string),
		zooms:   make(map[string]int),
		present: make(map[string]map[pyramid.TilePos]struct{}),
	}
	if _, err := h.Exec(schema); err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to create schema in %s: %w", path, err)
	}
	if err := s.load(); err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to load pyramids from %s: %w", path, err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.h.Close()
}

// Path is the file backing the store.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) load() error {
	rows, err := s.h.Query(`SELECT pyramid_id, table_name, crs FROM pyramid_pyramids ORDER BY position`)
	if err != nil {
		return err
	}
	var pyramids []*pyramid.Pyramid
	for rows.Next() {
		var id, table, code string
		if err := rows.Scan(&id, &table, &code); err != nil {
			rows.Close()
			return err
		}
		crs, err := pyramid.ParseCRS(code)
		if err != nil {
			rows.Close()
			return fmt.Errorf("pyramid %s: %w", id, err)
		}
		pyramids = append(pyramids, pyramid.NewPyramid(id, crs))
		s.tables[id] = table
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, p := range pyramids {
		if err := s.set.AddPyramid(p); err != nil {
			return err
		}
	}

	rows, err = s.h.Query(`SELECT mosaic_id, pyramid_id, zoom_level, slice, upper_left_x, upper_left_y,
		grid_width, grid_height, tile_width, tile_height, scale, bands, sample_type, nodata
		FROM pyramid_mosaics ORDER BY pyramid_id, zoom_level`)
	if err != nil {
		return err
	}
	var mosaics []*pyramid.GridMosaic
	for rows.Next() {
		var (
			id, pyramidID string
			zoom          int
			def           pyramid.MosaicDef
			bands         sql.NullInt64
			sampleType    sql.NullString
			noData        sql.NullFloat64
		)
		err := rows.Scan(&id, &pyramidID, &zoom, &def.Slice, &def.UpperLeft[0], &def.UpperLeft[1],
			&def.GridWidth, &def.GridHeight, &def.TileWidth, &def.TileHeight, &def.Scale, &bands, &sampleType, &noData)
		if err != nil {
			rows.Close()
			return err
		}
		if bands.Valid && sampleType.Valid {
			t, err := pyramid.ParseSampleType(sampleType.String)
			if err != nil {
				rows.Close()
				return fmt.Errorf("mosaic %s: %w", id, err)
			}
			model := pyramid.DefaultSampleModel(int(bands.Int64), t)
			// NaN is stored as NULL
			if noData.Valid {
				model.NoData = noData.Float64
			}
			def.Model = &model
		}
		mosaics = append(mosaics, pyramid.NewGridMosaic(id, pyramidID, def, s, pyramid.WithLogger(s.log)))
		s.zooms[id] = zoom
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range mosaics {
		p := s.set.Pyramid(m.PyramidID)
		if p == nil {
			return fmt.Errorf("mosaic %s refers to unknown pyramid %s", m.ID, m.PyramidID)
		}
		if err := p.AddMosaic(m); err != nil {
			return err
		}
		if err := s.loadPresence(m); err != nil {
			return fmt.Errorf("mosaic %s: %w", m.ID, err)
		}
		s.set.ExtendEnvelope(m.Bound(), p.CRS)
	}
	s.log.WithFields(logrus.Fields{"pyramids": len(pyramids), "mosaics": len(mosaics)}).Debug("loaded GeoPackage")
	return nil
}

func (s *Store) loadPresence(m *pyramid.GridMosaic) error {
	rows, err := s.h.Query(fmt.Sprintf(`SELECT tile_column, tile_row FROM %s WHERE zoom_level = ?`, quote(s.tables[m.PyramidID])), s.zooms[m.ID])
	if err != nil {
		return err
	}
	defer rows.Close()
	tiles := make(map[pyramid.TilePos]struct{})
	for rows.Next() {
		var pos pyramid.TilePos
		if err := rows.Scan(&pos.Col, &pos.Row); err != nil {
			return err
		}
		tiles[pos] = struct{}{}
	}
	s.present[m.ID] = tiles
	return rows.Err()
}

// quote makes an SQL identifier of a table name.
func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

// PyramidSet implements pyramid.Store.
func (s *Store) PyramidSet(context.Context) (*pyramid.PyramidSet, error) {
	return s.set, nil
}

// CreatePyramid implements pyramid.Store. The CRS must be EPSG coded; it is
// registered in gpkg_spatial_ref_sys when unknown to the file.
func (s *Store) CreatePyramid(ctx context.Context, crs pyramid.CRS) (*pyramid.Pyramid, error) {
	code := crs.EPSG()
	if code <= 0 {
		return nil, fmt.Errorf("GeoPackage pyramids need an EPSG coded crs, got %q", crs.Code)
	}
	if err := s.ensureSRS(ctx, crs); err != nil {
		return nil, err
	}

	p := pyramid.NewPyramid(pyramid.NewID(), crs)
	table := "tiles_" + p.ID
	ext := geom.Extent{crs.Domain.Min[0], crs.Domain.Min[1], crs.Domain.Max[0], crs.Domain.Max[1]}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO pyramid_pyramids (pyramid_id, table_name, crs, position)
			VALUES (?, ?, ?, (SELECT COUNT(*) FROM pyramid_pyramids))`, p.ID, table, crs.Code)
		if isConstraint(err) {
			return fmt.Errorf("pyramid for %s in %s: %w", crs, s.path, pyramid.ErrDuplicateCRS)
		}
		if err != nil {
			return err
		}
		stmts := []struct {
			query string
			args  []any
		}{
			{fmt.Sprintf(`CREATE TABLE %s (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				zoom_level INTEGER NOT NULL,
				tile_column INTEGER NOT NULL,
				tile_row INTEGER NOT NULL,
				tile_data BLOB NOT NULL,
				UNIQUE (zoom_level, tile_column, tile_row))`, quote(table)), nil},
			{`INSERT INTO gpkg_contents (table_name, data_type, identifier, description, min_x, min_y, max_x, max_y, srs_id)
				VALUES (?, 'tiles', ?, ?, ?, ?, ?, ?, ?)`,
				[]any{table, table, "pyramid " + p.ID + " in " + crs.Code, ext.MinX(), ext.MinY(), ext.MaxX(), ext.MaxY(), code}},
			{`INSERT INTO gpkg_tile_matrix_set (table_name, srs_id, min_x, min_y, max_x, max_y) VALUES (?, ?, ?, ?, ?, ?)`,
				[]any{table, code, ext.MinX(), ext.MinY(), ext.MaxX(), ext.MaxY()}},
		}
		for _, st := range stmts {
			if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pyramid: %w", err)
	}

	if err := s.set.AddPyramid(p); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.tables[p.ID] = table
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{"pyramid": p.ID, "crs": crs.Code}).Info("created pyramid")
	s.Fire(pyramid.Event{Kind: pyramid.PyramidAdded, PyramidID: p.ID})
	return p, nil
}

func (s *Store) ensureSRS(ctx context.Context, crs pyramid.CRS) error {
	var n int
	code := crs.EPSG()
	if err := s.h.QueryRowContext(ctx, `SELECT COUNT(*) FROM gpkg_spatial_ref_sys WHERE srs_id = ?`, code).Scan(&n); err != nil {
		return fmt.Errorf("failed to look up srs %d: %w", code, err)
	}
	if n > 0 {
		return nil
	}
	err := s.h.UpdateSRS(gpkg.SpatialReferenceSystem{
		Name:                   crs.Code,
		ID:                     code,
		Organization:           "EPSG",
		OrganizationCoordsysID: code,
		Definition:             "undefined",
		Description:            crs.Code,
	})
	if err != nil {
		return fmt.Errorf("failed to register srs %d: %w", code, err)
	}
	return nil
}

// CreateMosaic implements pyramid.Store. Zoom levels of the tile table are
// assigned in creation order.
func (s *Store) CreateMosaic(ctx context.Context, pyramidID string, def pyramid.MosaicDef) (*pyramid.GridMosaic, error) {
	p := s.set.Pyramid(pyramidID)
	if p == nil {
		return nil, fmt.Errorf("unknown pyramid %s", pyramidID)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if p.MosaicAtScale(def.Slice, def.Scale) != nil {
		return nil, fmt.Errorf("mosaic at scale %v in pyramid %s: %w", def.Scale, p.ID, pyramid.ErrDuplicateScale)
	}
	s.mu.RLock()
	table := s.tables[pyramidID]
	s.mu.RUnlock()

	m := pyramid.NewGridMosaic(pyramid.NewID(), pyramidID, def, s, pyramid.WithLogger(s.log))
	var bands sql.NullInt64
	var sampleType sql.NullString
	var noData sql.NullFloat64
	if def.Model != nil {
		bands = sql.NullInt64{Int64: int64(def.Model.Bands), Valid: true}
		sampleType = sql.NullString{String: def.Model.Type.String(), Valid: true}
		noData = sql.NullFloat64{Float64: def.Model.NoData, Valid: !math.IsNaN(def.Model.NoData)}
	}

	var zoom int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(zoom_level) + 1, 0) FROM pyramid_mosaics WHERE pyramid_id = ?`, pyramidID).Scan(&zoom)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO pyramid_mosaics (mosaic_id, pyramid_id, zoom_level, slice,
			upper_left_x, upper_left_y, grid_width, grid_height, tile_width, tile_height, scale, bands, sample_type, nodata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, pyramidID, zoom, def.Slice, def.UpperLeft[0], def.UpperLeft[1],
			def.GridWidth, def.GridHeight, def.TileWidth, def.TileHeight, def.Scale, bands, sampleType, noData)
		if isConstraint(err) {
			return fmt.Errorf("mosaic at scale %v in pyramid %s: %w", def.Scale, p.ID, pyramid.ErrDuplicateScale)
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO gpkg_tile_matrix (table_name, zoom_level, matrix_width, matrix_height,
			tile_width, tile_height, pixel_x_size, pixel_y_size) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			table, zoom, def.GridWidth, def.GridHeight, def.TileWidth, def.TileHeight, def.Scale, def.Scale)
		if err != nil {
			return err
		}
		return s.extendBounds(ctx, tx, table, m.Bound())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mosaic: %w", err)
	}

	if err := p.AddMosaic(m); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.zooms[m.ID] = zoom
	s.present[m.ID] = make(map[pyramid.TilePos]struct{})
	s.mu.Unlock()
	s.set.ExtendEnvelope(m.Bound(), p.CRS)
	s.Fire(pyramid.Event{Kind: pyramid.MosaicAdded, PyramidID: pyramidID, MosaicID: m.ID})
	return m, nil
}

// extendBounds grows the tile matrix set and contents bounds of table to
// include b. The first mosaic replaces the CRS domain written at creation.
func (s *Store) extendBounds(ctx context.Context, tx *sql.Tx, table string, b orb.Bound) error {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM gpkg_tile_matrix WHERE table_name = ?`, table).Scan(&n); err != nil {
		return err
	}
	ext := geom.NewExtent([2]float64{b.Min[0], b.Min[1]}, [2]float64{b.Max[0], b.Max[1]})
	if n > 1 {
		var cur geom.Extent
		err := tx.QueryRowContext(ctx, `SELECT min_x, min_y, max_x, max_y FROM gpkg_tile_matrix_set WHERE table_name = ?`, table).
			Scan(&cur[0], &cur[1], &cur[2], &cur[3])
		if err != nil {
			return err
		}
		ext.Add(&cur)
	}
	for _, q := range []string{
		`UPDATE gpkg_tile_matrix_set SET min_x = ?, min_y = ?, max_x = ?, max_y = ? WHERE table_name = ?`,
		`UPDATE gpkg_contents SET min_x = ?, min_y = ?, max_x = ?, max_y = ?,
			last_change = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE table_name = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, ext.MinX(), ext.MinY(), ext.MaxX(), ext.MaxY(), table); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.h.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) location(m *pyramid.GridMosaic) (string, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	table, ok := s.tables[m.PyramidID]
	if !ok {
		return "", 0, fmt.Errorf("unknown pyramid %s", m.PyramidID)
	}
	zoom, ok := s.zooms[m.ID]
	if !ok {
		return "", 0, fmt.Errorf("unknown mosaic %s", m.ID)
	}
	return table, zoom, nil
}

// WriteTile implements pyramid.Store. Rewriting a tile replaces it.
func (s *Store) WriteTile(ctx context.Context, m *pyramid.GridMosaic, col, row int, r *pyramid.Raster) error {
	if !m.InGrid(col, row) {
		return fmt.Errorf("tile %d/%d outside grid of mosaic %s", col, row, m.ID)
	}
	if r.Width != m.TileWidth || r.Height != m.TileHeight {
		return fmt.Errorf("tile size %dx%d does not match mosaic %dx%d", r.Width, r.Height, m.TileWidth, m.TileHeight)
	}
	table, zoom, err := s.location(m)
	if err != nil {
		return err
	}
	data, err := encodeTile(r)
	if err != nil {
		return fmt.Errorf("tile %d/%d of mosaic %s: %w", col, row, m.ID, err)
	}

	_, err = s.h.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)
		ON CONFLICT (zoom_level, tile_column, tile_row) DO UPDATE SET tile_data = excluded.tile_data`, quote(table)),
		zoom, col, row, data)
	if err != nil {
		return fmt.Errorf("failed to write tile %d/%d of mosaic %s: %w", col, row, m.ID, err)
	}

	pos := pyramid.TilePos{Col: col, Row: row}
	s.mu.Lock()
	_, existed := s.present[m.ID][pos]
	s.present[m.ID][pos] = struct{}{}
	s.mu.Unlock()

	kind := pyramid.TilesAdded
	if existed {
		kind = pyramid.TilesUpdated
	}
	s.Fire(pyramid.Event{Kind: kind, PyramidID: m.PyramidID, MosaicID: m.ID, Tiles: []pyramid.TilePos{pos}})
	return nil
}

// DeleteTile removes a tile, flagging the cell missing again.
func (s *Store) DeleteTile(ctx context.Context, m *pyramid.GridMosaic, col, row int) error {
	table, zoom, err := s.location(m)
	if err != nil {
		return err
	}
	_, err = s.h.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`, quote(table)),
		zoom, col, row)
	if err != nil {
		return fmt.Errorf("failed to delete tile %d/%d of mosaic %s: %w", col, row, m.ID, err)
	}
	pos := pyramid.TilePos{Col: col, Row: row}
	s.mu.Lock()
	delete(s.present[m.ID], pos)
	s.mu.Unlock()
	s.Fire(pyramid.Event{Kind: pyramid.TilesDeleted, PyramidID: m.PyramidID, MosaicID: m.ID, Tiles: []pyramid.TilePos{pos}})
	return nil
}

// IsMissing implements pyramid.TileSource from the in-memory tile index.
func (s *Store) IsMissing(m *pyramid.GridMosaic, col, row int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.present[m.ID][pyramid.TilePos{Col: col, Row: row}]
	return !ok
}

// TileReference implements pyramid.TileSource. Pixels are read from the
// database when the reference resolves.
func (s *Store) TileReference(_ context.Context, m *pyramid.GridMosaic, col, row int) (pyramid.TileReference, error) {
	if s.IsMissing(m, col, row) {
		return pyramid.TileReference{}, fmt.Errorf("tile %d/%d of mosaic %s: %w", col, row, m.ID, pyramid.ErrTileMissing)
	}
	table, zoom, err := s.location(m)
	if err != nil {
		return pyramid.TileReference{}, err
	}
	h := &tileHandle{store: s, table: table, zoom: zoom, col: col, row: row, model: m.Model}
	return pyramid.NewExternalReference(col, row, h, 0), nil
}

type tileHandle struct {
	store    *Store
	table    string
	zoom     int
	col, row int
	model    *pyramid.SampleModel
}

// Open implements pyramid.DecoderHandle.
func (h *tileHandle) Open(ctx context.Context) (pyramid.TileDecoder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tileDecoder{h: h}, nil
}

type tileDecoder struct {
	h *tileHandle
}

// Decode implements pyramid.TileDecoder. Tile tables hold one image per
// cell, so index is ignored.
func (d *tileDecoder) Decode(ctx context.Context, _ int) (*pyramid.Raster, error) {
	h := d.h
	var data []byte
	err := h.store.h.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT tile_data FROM %s WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`, quote(h.table)),
		h.zoom, h.col, h.row).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tile %d/%d: %w", h.col, h.row, pyramid.ErrTileMissing)
	}
	if err != nil {
		return nil, err
	}
	return decodeTile(data, h.model)
}

// Close implements pyramid.TileDecoder.
func (d *tileDecoder) Close() error {
	return nil
}
