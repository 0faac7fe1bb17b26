// Package settings persists precision-landing configuration in sqlite so
// camera profiles, detector parameters and the enabled flag survive process
// restarts.
package settings

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// CameraProfile is a named camera configuration. Immutable per loop run;
// read from the store when the loop starts.
type CameraProfile struct {
	CameraType       string  `json:"camera_type"`
	StreamURL        string  `json:"rtsp"`
	HorizontalFOVDeg float64 `json:"horizontal_fov"`
	CalibrationRef   string  `json:"calibration_ref,omitempty"`
}

// Settings is the singleton service configuration row.
type Settings struct {
	Enabled          bool    `json:"enabled"`
	LastCameraType   string  `json:"last_camera_type"`
	DetectorFamily   string  `json:"detector_family"`
	DetectorTargetID int     `json:"detector_target_id"`
	DetectorAccuracy float64 `json:"detector_accuracy"`
	GatingEnabled    bool    `json:"gating_enabled"`
	LensCorrection   bool    `json:"lens_correction"`
	GatewaySystemID  uint8   `json:"gateway_system_id"`
}

// Store is a sqlite-backed settings store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the settings database at path and runs
// any pending schema migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("settings migration failed: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// Profiles returns all camera profiles ordered by camera type.
func (s *Store) Profiles() ([]CameraProfile, error) {
	rows, err := s.db.Query(`SELECT camera_type, stream_url, horizontal_fov, calibration_ref
	                         FROM camera_profiles ORDER BY camera_type ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query camera profiles: %w", err)
	}
	defer rows.Close()

	var profiles []CameraProfile
	for rows.Next() {
		var p CameraProfile
		if err := rows.Scan(&p.CameraType, &p.StreamURL, &p.HorizontalFOVDeg, &p.CalibrationRef); err != nil {
			return nil, fmt.Errorf("failed to scan camera profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// Profile returns the profile for a camera type, or nil if unknown.
func (s *Store) Profile(cameraType string) (*CameraProfile, error) {
	var p CameraProfile
	err := s.db.QueryRow(`SELECT camera_type, stream_url, horizontal_fov, calibration_ref
	                      FROM camera_profiles WHERE camera_type = ?`, cameraType).
		Scan(&p.CameraType, &p.StreamURL, &p.HorizontalFOVDeg, &p.CalibrationRef)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera profile: %w", err)
	}
	return &p, nil
}

// SaveProfile inserts or updates a camera profile and records it as the last
// used camera.
func (s *Store) SaveProfile(p CameraProfile) error {
	_, err := s.db.Exec(`INSERT INTO camera_profiles (camera_type, stream_url, horizontal_fov, calibration_ref)
	                     VALUES (?, ?, ?, ?)
	                     ON CONFLICT(camera_type) DO UPDATE SET
	                       stream_url = excluded.stream_url,
	                       horizontal_fov = excluded.horizontal_fov,
	                       calibration_ref = excluded.calibration_ref,
	                       updated_at = CURRENT_TIMESTAMP`,
		p.CameraType, p.StreamURL, p.HorizontalFOVDeg, p.CalibrationRef)
	if err != nil {
		return fmt.Errorf("failed to save camera profile: %w", err)
	}

	_, err = s.db.Exec(`UPDATE landing_settings SET last_camera_type = ? WHERE id = 1`, p.CameraType)
	if err != nil {
		return fmt.Errorf("failed to record last used camera: %w", err)
	}
	return nil
}

// Get returns the singleton settings row.
func (s *Store) Get() (Settings, error) {
	var (
		st                          Settings
		enabled, gating, correction int
		sysID                       int
	)
	err := s.db.QueryRow(`SELECT enabled, last_camera_type, detector_family, detector_target_id,
	                             detector_accuracy, gating_enabled, lens_correction, gateway_system_id
	                      FROM landing_settings WHERE id = 1`).
		Scan(&enabled, &st.LastCameraType, &st.DetectorFamily, &st.DetectorTargetID,
			&st.DetectorAccuracy, &gating, &correction, &sysID)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to get settings: %w", err)
	}
	st.Enabled = enabled == 1
	st.GatingEnabled = gating == 1
	st.LensCorrection = correction == 1
	st.GatewaySystemID = uint8(sysID)
	return st, nil
}

// Save writes the singleton settings row.
func (s *Store) Save(st Settings) error {
	_, err := s.db.Exec(`UPDATE landing_settings SET
	                       enabled = ?, last_camera_type = ?, detector_family = ?,
	                       detector_target_id = ?, detector_accuracy = ?,
	                       gating_enabled = ?, lens_correction = ?, gateway_system_id = ?
	                     WHERE id = 1`,
		boolToInt(st.Enabled), st.LastCameraType, st.DetectorFamily,
		st.DetectorTargetID, st.DetectorAccuracy,
		boolToInt(st.GatingEnabled), boolToInt(st.LensCorrection), int(st.GatewaySystemID))
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// SetEnabled persists the enabled flag, which controls auto-start on boot.
func (s *Store) SetEnabled(enabled bool) error {
	_, err := s.db.Exec(`UPDATE landing_settings SET enabled = ? WHERE id = 1`, boolToInt(enabled))
	if err != nil {
		return fmt.Errorf("failed to save enabled state: %w", err)
	}
	return nil
}

// LastUsed returns the profile recorded as most recently used, falling back
// to the first profile when the recorded camera type no longer exists.
func (s *Store) LastUsed() (*CameraProfile, error) {
	st, err := s.Get()
	if err != nil {
		return nil, err
	}
	p, err := s.Profile(st.LastCameraType)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	profiles, err := s.Profiles()
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, nil
	}
	return &profiles[0], nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
