package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/ztpkit/ztpkit/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 8
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// every connection to :memory: opens a fresh database
	if isMemory(cfg.Path) {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Init opens the database connection and applies connection pragmas.
func (s *SQLiteStore) Init(ctx context.Context) error {
	params := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_time_format=sqlite",
	}
	if !isMemory(s.cfg.Path) {
		params = append(params, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	sep := "?"
	if strings.Contains(s.cfg.Path, "?") {
		sep = "&"
	}
	dsn := s.cfg.Path + sep + strings.Join(params, "&")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// HealthCheck verifies the database is reachable
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("ping database", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return engine.NewStorageError("failed to "+op, err)
}

func notFound(kind string, id any) error {
	return engine.NewNotFoundError(kind+" not found", nil).WithResource(fmt.Sprintf("%s/%v", kind, id))
}

func now() time.Time {
	return time.Now().UTC()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Devices

const deviceColumns = `id, mac, hostname, ip, vendor_id, model, serial_number, status, ssh_user, ssh_pass,
	config_template_id, topology_id, topology_role, subnet, gateway, last_backup, last_error, created_at, updated_at`

func scanDevice(row rowScanner) (*Device, error) {
	d := &Device{}
	err := row.Scan(
		&d.ID, &d.MAC, &d.Hostname, &d.IP, &d.VendorID, &d.Model, &d.SerialNumber, &d.Status,
		&d.SSHUser, &d.SSHPass, &d.ConfigTemplateID, &d.TopologyID, &d.TopologyRole,
		&d.Subnet, &d.Gateway, &d.LastBackup, &d.LastError, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

// CreateDevice inserts a device and sets its generated ID. The MAC is stored lowercased.
func (s *SQLiteStore) CreateDevice(ctx context.Context, d *Device) error {
	d.MAC = strings.ToLower(d.MAC)
	if d.Status == "" {
		d.Status = DeviceStatusOffline
	}
	ts := now()
	d.CreatedAt, d.UpdatedAt = ts, ts

	query := `
		INSERT INTO devices (mac, hostname, ip, vendor_id, model, serial_number, status, ssh_user, ssh_pass,
			config_template_id, topology_id, topology_role, subnet, gateway, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		d.MAC, d.Hostname, d.IP, d.VendorID, d.Model, d.SerialNumber, d.Status, d.SSHUser, d.SSHPass,
		d.ConfigTemplateID, d.TopologyID, d.TopologyRole, d.Subnet, d.Gateway, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return storageErr("create device", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return storageErr("read device id", err)
	}
	d.ID = id
	return nil
}

// GetDevice retrieves a device by ID
func (s *SQLiteStore) GetDevice(ctx context.Context, id int64) (*Device, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("device", id)
	}
	if err != nil {
		return nil, storageErr("get device", err)
	}
	return d, nil
}

// GetDeviceByMAC retrieves a device by MAC address, case-insensitively
func (s *SQLiteStore) GetDeviceByMAC(ctx context.Context, mac string) (*Device, error) {
	mac = strings.ToLower(mac)
	d, err := scanDevice(s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE mac = ?`, mac))
	if err == sql.ErrNoRows {
		return nil, notFound("device", mac)
	}
	if err != nil {
		return nil, storageErr("get device by mac", err)
	}
	return d, nil
}

// ListDevices lists devices with pagination
func (s *SQLiteStore) ListDevices(ctx context.Context, limit, offset int) ([]*Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, storageErr("list devices", err)
	}
	defer rows.Close()

	devices := []*Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, storageErr("scan device", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate devices", err)
	}
	return devices, nil
}

// UpdateDeviceStatus sets the device status and replaces last_error (nil clears it).
func (s *SQLiteStore) UpdateDeviceStatus(ctx context.Context, id int64, status DeviceStatus, lastError *string) error {
	query := `UPDATE devices SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`
	return s.execOne(ctx, "update device status", "device", id, query, status, lastError, now(), id)
}

// MarkDeviceBackedUp sets the device online, stamps last_backup and clears last_error.
func (s *SQLiteStore) MarkDeviceBackedUp(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE devices SET status = ?, last_backup = ?, last_error = NULL, updated_at = ? WHERE id = ?`
	return s.execOne(ctx, "mark device backed up", "device", id, query, DeviceStatusOnline, at.UTC(), now(), id)
}

// execOne runs an UPDATE that must touch exactly one row.
func (s *SQLiteStore) execOne(ctx context.Context, op, kind string, id any, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storageErr(op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return storageErr("get rows affected", err)
	}
	if rows == 0 {
		return notFound(kind, id)
	}
	return nil
}

// Vendors

// UpsertVendor creates or replaces a vendor
func (s *SQLiteStore) UpsertVendor(ctx context.Context, v *Vendor) error {
	query := `
		INSERT INTO vendors (id, name, ssh_user, ssh_pass, backup_command, deploy_command, default_template_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			ssh_user = excluded.ssh_user,
			ssh_pass = excluded.ssh_pass,
			backup_command = excluded.backup_command,
			deploy_command = excluded.deploy_command,
			default_template_id = excluded.default_template_id
	`
	_, err := s.db.ExecContext(ctx, query, v.ID, v.Name, v.SSHUser, v.SSHPass, v.BackupCommand, v.DeployCommand, v.DefaultTemplateID)
	if err != nil {
		return storageErr("upsert vendor", err)
	}
	return nil
}

// GetVendor retrieves a vendor by ID
func (s *SQLiteStore) GetVendor(ctx context.Context, id string) (*Vendor, error) {
	query := `SELECT id, name, ssh_user, ssh_pass, backup_command, deploy_command, default_template_id FROM vendors WHERE id = ?`

	v := &Vendor{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&v.ID, &v.Name, &v.SSHUser, &v.SSHPass, &v.BackupCommand, &v.DeployCommand, &v.DefaultTemplateID,
	)
	if err == sql.ErrNoRows {
		return nil, notFound("vendor", id)
	}
	if err != nil {
		return nil, storageErr("get vendor", err)
	}
	return v, nil
}

// Groups

// CreateGroup inserts a group and sets its generated ID. Groups without a parent are
// attached to the "all" group.
func (s *SQLiteStore) CreateGroup(ctx context.Context, g *Group) error {
	if g.ParentID == nil {
		root := AllGroupID
		g.ParentID = &root
	}

	query := `INSERT INTO host_groups (name, parent_id, precedence, description) VALUES (?, ?, ?, ?)`
	result, err := s.db.ExecContext(ctx, query, g.Name, g.ParentID, g.Precedence, g.Description)
	if err != nil {
		return storageErr("create group", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return storageErr("read group id", err)
	}
	g.ID = id
	return nil
}

// GetGroup retrieves a group by ID
func (s *SQLiteStore) GetGroup(ctx context.Context, id int64) (*Group, error) {
	query := `SELECT id, name, parent_id, precedence, description FROM host_groups WHERE id = ?`

	g := &Group{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(&g.ID, &g.Name, &g.ParentID, &g.Precedence, &g.Description)
	if err == sql.ErrNoRows {
		return nil, notFound("group", id)
	}
	if err != nil {
		return nil, storageErr("get group", err)
	}
	return g, nil
}

// ListGroups returns the whole group catalog ordered by ID
func (s *SQLiteStore) ListGroups(ctx context.Context) ([]*Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, parent_id, precedence, description FROM host_groups ORDER BY id`)
	if err != nil {
		return nil, storageErr("list groups", err)
	}
	defer rows.Close()

	groups := []*Group{}
	for rows.Next() {
		g := &Group{}
		if err := rows.Scan(&g.ID, &g.Name, &g.ParentID, &g.Precedence, &g.Description); err != nil {
			return nil, storageErr("scan group", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate groups", err)
	}
	return groups, nil
}

// SetGroupParent rewrites a group's parent. It performs no cycle check; callers go
// through resolver.Reparent.
func (s *SQLiteStore) SetGroupParent(ctx context.Context, id int64, parentID *int64) error {
	return s.execOne(ctx, "set group parent", "group", id, `UPDATE host_groups SET parent_id = ? WHERE id = ?`, parentID, id)
}

// AddDeviceToGroup records a direct group membership
func (s *SQLiteStore) AddDeviceToGroup(ctx context.Context, deviceID, groupID int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO device_groups (device_id, group_id) VALUES (?, ?)`, deviceID, groupID)
	if err != nil {
		return storageErr("add device to group", err)
	}
	return nil
}

// ListDeviceGroupIDs returns the device's direct group memberships
func (s *SQLiteStore) ListDeviceGroupIDs(ctx context.Context, deviceID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id FROM device_groups WHERE device_id = ? ORDER BY group_id`, deviceID)
	if err != nil {
		return nil, storageErr("list device groups", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan device group", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Variables

// SetGroupVariable creates or replaces a group-scoped variable
func (s *SQLiteStore) SetGroupVariable(ctx context.Context, groupID int64, key, value string) error {
	query := `
		INSERT INTO group_variables (group_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(group_id, key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.db.ExecContext(ctx, query, groupID, key, value); err != nil {
		return storageErr("set group variable", err)
	}
	return nil
}

// ListGroupVariables returns a group's variables ordered by key
func (s *SQLiteStore) ListGroupVariables(ctx context.Context, groupID int64) ([]Variable, error) {
	return s.listVariables(ctx, `SELECT key, value FROM group_variables WHERE group_id = ? ORDER BY key`, groupID)
}

// SetDeviceVariable creates or replaces a host-scoped variable
func (s *SQLiteStore) SetDeviceVariable(ctx context.Context, deviceID int64, key, value string) error {
	query := `
		INSERT INTO device_variables (device_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(device_id, key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.db.ExecContext(ctx, query, deviceID, key, value); err != nil {
		return storageErr("set device variable", err)
	}
	return nil
}

// ListDeviceVariables returns a device's own variables ordered by key
func (s *SQLiteStore) ListDeviceVariables(ctx context.Context, deviceID int64) ([]Variable, error) {
	return s.listVariables(ctx, `SELECT key, value FROM device_variables WHERE device_id = ? ORDER BY key`, deviceID)
}

func (s *SQLiteStore) listVariables(ctx context.Context, query string, id int64) ([]Variable, error) {
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, storageErr("list variables", err)
	}
	defer rows.Close()

	vars := []Variable{}
	for rows.Next() {
		var v Variable
		if err := rows.Scan(&v.Key, &v.Value); err != nil {
			return nil, storageErr("scan variable", err)
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

// Templates

// UpsertTemplate creates or replaces a template
func (s *SQLiteStore) UpsertTemplate(ctx context.Context, t *Template) error {
	query := `
		INSERT INTO templates (id, name, content) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, content = excluded.content
	`
	if _, err := s.db.ExecContext(ctx, query, t.ID, t.Name, t.Content); err != nil {
		return storageErr("upsert template", err)
	}
	return nil
}

// GetTemplate retrieves a template by ID
func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*Template, error) {
	t := &Template{}
	err := s.db.QueryRowContext(ctx, `SELECT id, name, content FROM templates WHERE id = ?`, id).Scan(&t.ID, &t.Name, &t.Content)
	if err == sql.ErrNoRows {
		return nil, notFound("template", id)
	}
	if err != nil {
		return nil, storageErr("get template", err)
	}
	return t, nil
}

// Credentials

// CreateCredential inserts a named credential
func (s *SQLiteStore) CreateCredential(ctx context.Context, c *Credential) error {
	result, err := s.db.ExecContext(ctx, `INSERT INTO credentials (name, username, password) VALUES (?, ?, ?)`, c.Name, c.Username, c.Password)
	if err != nil {
		return storageErr("create credential", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return storageErr("read credential id", err)
	}
	c.ID = id
	return nil
}

// GetCredential retrieves a credential by ID
func (s *SQLiteStore) GetCredential(ctx context.Context, id int64) (*Credential, error) {
	c := &Credential{}
	err := s.db.QueryRowContext(ctx, `SELECT id, name, username, password FROM credentials WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Username, &c.Password)
	if err == sql.ErrNoRows {
		return nil, notFound("credential", id)
	}
	if err != nil {
		return nil, storageErr("get credential", err)
	}
	return c, nil
}

// Jobs

const jobColumns = `id, kind, device_id, command, credential_id, triggered_by, status, output, error, created_at, started_at, completed_at`

func scanJob(row rowScanner) (*Job, error) {
	j := &Job{}
	err := row.Scan(
		&j.ID, &j.Kind, &j.DeviceID, &j.Command, &j.CredentialID, &j.TriggeredBy, &j.Status,
		&j.Output, &j.Error, &j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	return j, err
}

// CreateJob persists a job in the queued state
func (s *SQLiteStore) CreateJob(ctx context.Context, j *Job) error {
	j.Status = JobStatusQueued
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now()
	}

	query := `
		INSERT INTO jobs (id, kind, device_id, command, credential_id, triggered_by, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, j.ID, j.Kind, j.DeviceID, j.Command, j.CredentialID, j.TriggeredBy, j.Status, j.CreatedAt.UTC())
	if err != nil {
		return storageErr("create job", err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("job", id)
	}
	if err != nil {
		return nil, storageErr("get job", err)
	}
	return j, nil
}

// MarkJobRunning moves a queued job (or a running job being recovered) to running.
func (s *SQLiteStore) MarkJobRunning(ctx context.Context, id string, startedAt time.Time) error {
	query := `UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status IN (?, ?)`
	return s.execOne(ctx, "mark job running", "job", id, query,
		JobStatusRunning, startedAt.UTC(), id, JobStatusQueued, JobStatusRunning)
}

// CompleteJob moves a running job to completed with its output.
func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, output string) error {
	query := `UPDATE jobs SET status = ?, output = ?, error = NULL, completed_at = ? WHERE id = ? AND status = ?`
	return s.execOne(ctx, "complete job", "job", id, query, JobStatusCompleted, output, now(), id, JobStatusRunning)
}

// FailJob moves a non-terminal job to failed with the error message.
func (s *SQLiteStore) FailJob(ctx context.Context, id string, errMsg string) error {
	query := `UPDATE jobs SET status = ?, error = ?, completed_at = ? WHERE id = ? AND status IN (?, ?)`
	return s.execOne(ctx, "fail job", "job", id, query,
		JobStatusFailed, errMsg, now(), id, JobStatusQueued, JobStatusRunning)
}

// ListJobsByStatus returns jobs in any of the given statuses, oldest first
func (s *SQLiteStore) ListJobsByStatus(ctx context.Context, statuses ...JobStatus) ([]*Job, error) {
	if len(statuses) == 0 {
		return []*Job{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status IN (` + placeholders + `) ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list jobs", err)
	}
	defer rows.Close()

	jobs := []*Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, storageErr("scan job", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate jobs", err)
	}
	return jobs, nil
}

// Backups

// CreateBackup appends a backup record
func (s *SQLiteStore) CreateBackup(ctx context.Context, b *Backup) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now()
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO backups (device_id, filename, size, created_at) VALUES (?, ?, ?, ?)`,
		b.DeviceID, b.Filename, b.Size, b.CreatedAt.UTC())
	if err != nil {
		return storageErr("create backup", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return storageErr("read backup id", err)
	}
	b.ID = id
	return nil
}

// ListBackupsByDevice returns a device's backups, newest first
func (s *SQLiteStore) ListBackupsByDevice(ctx context.Context, deviceID int64) ([]*Backup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, filename, size, created_at FROM backups WHERE device_id = ? ORDER BY created_at DESC, id DESC`, deviceID)
	if err != nil {
		return nil, storageErr("list backups", err)
	}
	defer rows.Close()

	backups := []*Backup{}
	for rows.Next() {
		b := &Backup{}
		if err := rows.Scan(&b.ID, &b.DeviceID, &b.Filename, &b.Size, &b.CreatedAt); err != nil {
			return nil, storageErr("scan backup", err)
		}
		backups = append(backups, b)
	}
	return backups, rows.Err()
}

// Settings

// GetSettings loads the settings table over DefaultSettings. Unparseable values keep
// their defaults.
func (s *SQLiteStore) GetSettings(ctx context.Context) (*Settings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, storageErr("load settings", err)
	}
	defer rows.Close()

	settings := DefaultSettings()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, storageErr("scan setting", err)
		}

		switch {
		case key == SettingBackupDelaySeconds:
			if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
				settings.BackupDelay = time.Duration(secs) * time.Second
			}
		case key == SettingDefaultSSHUser:
			settings.DefaultSSHUser = value
		case key == SettingDefaultSSHPass:
			settings.DefaultSSHPass = value
		case key == SettingDefaultBackupCommand:
			if value != "" {
				settings.DefaultBackupCommand = value
			}
		case strings.HasPrefix(key, SettingBackupCommandPrefix):
			if vendor := strings.TrimPrefix(key, SettingBackupCommandPrefix); vendor != "" && value != "" {
				settings.VendorBackupCommands[vendor] = value
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate settings", err)
	}
	return settings, nil
}

// PutSetting creates or replaces a single setting
func (s *SQLiteStore) PutSetting(ctx context.Context, key, value string) error {
	query := `INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return storageErr("put setting", err)
	}
	return nil
}
