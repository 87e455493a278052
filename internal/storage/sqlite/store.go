package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/pixeltrack/internal/monitoring"
	"github.com/banshee-data/pixeltrack/internal/pixeltrack"
	"github.com/banshee-data/pixeltrack/internal/pixeltrack/detid"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
	_ "modernc.org/sqlite"
)

// ErrTrackNotFound is returned when a track id has no row.
var ErrTrackNotFound = errors.New("track not found")

// TrackStore defines the track persistence operations.
type TrackStore interface {
	InsertTrack(ctx context.Context, t *pixeltrack.LocalTrack) (string, error)
	GetTrack(ctx context.Context, trackID string) (*pixeltrack.LocalTrack, error)
	ListTrackIDs(ctx context.Context, limit int) ([]string, error)
	DeleteTrack(ctx context.Context, trackID string) error
}

// Store is the SQLite TrackStore.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ TrackStore = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	monitoring.Debugf("sqlite: opened track store %s", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for ad-hoc queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// InsertTrack stores t and its hits in a single transaction and returns
// the generated track id.
func (s *Store) InsertTrack(ctx context.Context, t *pixeltrack.LocalTrack) (string, error) {
	trackID := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin insert track: %w", err)
	}
	defer tx.Rollback()

	cov := t.CovarianceMatrix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pixel_tracks (
			track_id, z0, x0, y0, tx, ty, covariance,
			chi2, valid, points_used, created_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trackID,
		nullable(t.Z0()), nullable(t.X0()), nullable(t.Y0()), nullable(t.Tx()), nullable(t.Ty()),
		encodeCovariance(cov),
		nullable(t.ChiSquared()),
		t.IsValid(),
		t.NumberOfPointsUsedForFit(),
		s.now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("insert track: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pixel_track_hits (
			track_id, seq, det_id,
			global_x, global_y, global_z,
			residual_x, residual_y, pull_x, pull_y,
			used_for_fit, real_hit,
			local_x, local_y, local_err_xx, local_err_xy, local_err_yy,
			cluster_min_row, cluster_min_col, cluster_size, cluster_size_row, cluster_size_col,
			cluster_on_edge, cluster_bad_pixels, cluster_span_two_rocs
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("prepare insert hit: %w", err)
	}
	defer stmt.Close()

	seq := 0
	var hitErr error
	t.Hits().Each(func(id uint32, h pixeltrack.FittedRecHit) bool {
		g := h.GlobalCoordinates()
		lp := h.LocalPoint()
		le := h.LocalError()
		c := h.Cluster
		_, hitErr = stmt.ExecContext(ctx,
			trackID, seq, int64(id),
			nullable(g.X), nullable(g.Y), nullable(g.Z),
			nullable(h.XResidual()), nullable(h.YResidual()), nullable(h.XPull()), nullable(h.YPull()),
			h.IsUsedForFit(), h.IsRealHit(),
			nullable(lp.X), nullable(lp.Y), nullable(le.XX), nullable(le.XY), nullable(le.YY),
			c.MinPixelRow, c.MinPixelCol, c.Size, c.SizeRow, c.SizeCol,
			c.IsOnEdge, c.HasBadPixels, c.SpanTwoROCs,
		)
		if hitErr != nil {
			hitErr = fmt.Errorf("insert hit %d: %w", seq, hitErr)
			return false
		}
		seq++
		return true
	})
	if hitErr != nil {
		return "", hitErr
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit insert track: %w", err)
	}
	monitoring.Debugf("sqlite: stored track %s with %d hits", trackID, seq)
	return trackID, nil
}

// GetTrack loads a track and its hits. Hits are re-added in stored order
// through AddHit, so the used-for-fit counter reflects the stored flags.
func (s *Store) GetTrack(ctx context.Context, trackID string) (*pixeltrack.LocalTrack, error) {
	var (
		z0, x0, y0, tx, ty, chi2 sql.NullFloat64
		covBlob                  []byte
		valid                    bool
		pointsUsed               int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT z0, x0, y0, tx, ty, covariance, chi2, valid, points_used
		FROM pixel_tracks WHERE track_id = ?`, trackID,
	).Scan(&z0, &x0, &y0, &tx, &ty, &covBlob, &chi2, &valid, &pointsUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("track %s: %w", trackID, ErrTrackNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query track %s: %w", trackID, err)
	}

	cov, err := decodeCovariance(covBlob)
	if err != nil {
		return nil, fmt.Errorf("track %s: %w", trackID, err)
	}
	params := pixeltrack.ParameterVector{orNaN(x0), orNaN(y0), orNaN(tx), orNaN(ty)}
	t := pixeltrack.NewLocalTrack(orNaN(z0), params, cov, orNaN(chi2))
	t.SetValid(valid)

	rows, err := s.db.QueryContext(ctx, `
		SELECT det_id,
			global_x, global_y, global_z,
			residual_x, residual_y, pull_x, pull_y,
			used_for_fit, real_hit,
			local_x, local_y, local_err_xx, local_err_xy, local_err_yy,
			cluster_min_row, cluster_min_col, cluster_size, cluster_size_row, cluster_size_col,
			cluster_on_edge, cluster_bad_pixels, cluster_span_two_rocs
		FROM pixel_track_hits WHERE track_id = ? ORDER BY seq`, trackID)
	if err != nil {
		return nil, fmt.Errorf("query hits of %s: %w", trackID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			detID                 int64
			gx, gy, gz            sql.NullFloat64
			rx, ry, px, py        sql.NullFloat64
			used, realHit         bool
			lx, ly, exx, exy, eyy sql.NullFloat64
			c                     pixeltrack.Cluster
		)
		if err := rows.Scan(&detID,
			&gx, &gy, &gz,
			&rx, &ry, &px, &py,
			&used, &realHit,
			&lx, &ly, &exx, &exy, &eyy,
			&c.MinPixelRow, &c.MinPixelCol, &c.Size, &c.SizeRow, &c.SizeCol,
			&c.IsOnEdge, &c.HasBadPixels, &c.SpanTwoROCs,
		); err != nil {
			return nil, fmt.Errorf("scan hit of %s: %w", trackID, err)
		}

		rec := pixeltrack.NewRecHit(
			r2.Vec{X: orNaN(lx), Y: orNaN(ly)},
			pixeltrack.LocalError{XX: orNaN(exx), XY: orNaN(exy), YY: orNaN(eyy)},
			c,
		)
		h := pixeltrack.NewFittedRecHit(rec,
			r3.Vec{X: orNaN(gx), Y: orNaN(gy), Z: orNaN(gz)},
			pixeltrack.XY{X: orNaN(rx), Y: orNaN(ry)},
			pixeltrack.XY{X: orNaN(px), Y: orNaN(py)},
		)
		h.SetRealHit(realHit)
		h.SetUsedForFit(used)
		t.AddHit(detid.DetID(uint32(detID)), h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits of %s: %w", trackID, err)
	}

	if got := t.NumberOfPointsUsedForFit(); got != pointsUsed {
		monitoring.Logf("sqlite: track %s stored points_used=%d but hits give %d", trackID, pointsUsed, got)
	}
	return t, nil
}

// ListTrackIDs returns up to limit track ids, oldest first. A limit <= 0
// returns all tracks.
func (s *Store) ListTrackIDs(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT track_id FROM pixel_tracks ORDER BY created_unix_nanos, rowid`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan track id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteTrack removes a track and its hits.
func (s *Store) DeleteTrack(ctx context.Context, trackID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete track: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pixel_track_hits WHERE track_id = ?`, trackID); err != nil {
		return fmt.Errorf("delete hits of %s: %w", trackID, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM pixel_tracks WHERE track_id = ?`, trackID)
	if err != nil {
		return fmt.Errorf("delete track %s: %w", trackID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete track %s: %w", trackID, err)
	}
	if n == 0 {
		return fmt.Errorf("track %s: %w", trackID, ErrTrackNotFound)
	}
	return tx.Commit()
}

// SQLite stores NaN as NULL; map it explicitly both ways.
func nullable(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func orNaN(n sql.NullFloat64) float64 {
	if !n.Valid {
		return math.NaN()
	}
	return n.Float64
}

func encodeCovariance(c pixeltrack.CovarianceMatrix) []byte {
	buf := make([]byte, 8*pixeltrack.CovarianceSize)
	for i, v := range c {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func decodeCovariance(b []byte) (pixeltrack.CovarianceMatrix, error) {
	var c pixeltrack.CovarianceMatrix
	if len(b) != 8*pixeltrack.CovarianceSize {
		return c, fmt.Errorf("covariance blob has %d bytes, want %d", len(b), 8*pixeltrack.CovarianceSize)
	}
	for i := range c {
		c[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return c, nil
}
