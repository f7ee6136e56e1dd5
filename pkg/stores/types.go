package stores

import (
	"context"
	"database/sql"
	"time"
)

// AllGroupID is the fixed identity of the root "all" group seeded by the initial migration.
const AllGroupID int64 = 1

// AllGroupName is the name of the root group.
const AllGroupName = "all"

// DefaultGroupPrecedence is applied to groups created without an explicit precedence.
const DefaultGroupPrecedence = 1000

// DeviceStatus represents the lifecycle status of a device
type DeviceStatus string

const (
	DeviceStatusOnline       DeviceStatus = "online"
	DeviceStatusOffline      DeviceStatus = "offline"
	DeviceStatusProvisioning DeviceStatus = "provisioning"
)

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobKind is the persisted discriminator of a job's action.
type JobKind string

const (
	JobKindCommand JobKind = "command"
	JobKindDeploy  JobKind = "deploy"
)

// Device is a provisioned network device, keyed by MAC address
type Device struct {
	ID               int64        `json:"id"`
	MAC              string       `json:"mac"`
	Hostname         string       `json:"hostname"`
	IP               string       `json:"ip"`
	VendorID         *string      `json:"vendor_id,omitempty"`
	Model            string       `json:"model"`
	SerialNumber     string       `json:"serial_number"`
	Status           DeviceStatus `json:"status"`
	SSHUser          *string      `json:"ssh_user,omitempty"`
	SSHPass          *string      `json:"-"`
	ConfigTemplateID *string      `json:"config_template_id,omitempty"`
	TopologyID       *string      `json:"topology_id,omitempty"`
	TopologyRole     *string      `json:"topology_role,omitempty"`
	Subnet           *string      `json:"subnet,omitempty"`
	Gateway          *string      `json:"gateway,omitempty"`
	LastBackup       *time.Time   `json:"last_backup,omitempty"`
	LastError        *string      `json:"last_error,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Vendor carries per-vendor defaults: credentials, backup command, deploy wrapper, template
type Vendor struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	SSHUser           *string `json:"ssh_user,omitempty"`
	SSHPass           *string `json:"-"`
	BackupCommand     string  `json:"backup_command"`
	DeployCommand     *string `json:"deploy_command,omitempty"` // wrapper, {{CONFIG}} is replaced by the rendered config
	DefaultTemplateID *string `json:"default_template_id,omitempty"`
}

// Group is a node in the group forest
type Group struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ParentID    *int64 `json:"parent_id,omitempty"`
	Precedence  int    `json:"precedence"`
	Description string `json:"description,omitempty"`
}

// Variable is a key/value pair scoped to a group or a device
type Variable struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Template is a named configuration template
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Credential is a named SSH login that jobs may reference
type Credential struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"-"`
}

// Job is one unit of asynchronous work against a device
type Job struct {
	ID           string     `json:"id"`
	Kind         JobKind    `json:"kind"`
	DeviceID     int64      `json:"device_id"`
	Command      string     `json:"command"`
	CredentialID *int64     `json:"credential_id,omitempty"`
	TriggeredBy  string     `json:"triggered_by"`
	Status       JobStatus  `json:"status"`
	Output       *string    `json:"output,omitempty"`
	Error        *string    `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Backup records one successful configuration backup. Rows are never updated.
type Backup struct {
	ID        int64     `json:"id"`
	DeviceID  int64     `json:"device_id"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Settings are the global, operator-editable defaults.
type Settings struct {
	BackupDelay          time.Duration     `json:"backup_delay"`
	DefaultSSHUser       string            `json:"default_ssh_user"`
	DefaultSSHPass       string            `json:"-"`
	DefaultBackupCommand string            `json:"default_backup_command"`
	VendorBackupCommands map[string]string `json:"vendor_backup_commands,omitempty"` // vendor id -> override
}

// Settings keys in the settings table.
const (
	SettingBackupDelaySeconds   = "backup_delay_seconds"
	SettingDefaultSSHUser       = "default_ssh_user"
	SettingDefaultSSHPass       = "default_ssh_pass"
	SettingDefaultBackupCommand = "default_backup_command"
	SettingBackupCommandPrefix  = "backup_command."
)

// DefaultSettings returns the settings used when nothing has been stored.
func DefaultSettings() *Settings {
	return &Settings{
		BackupDelay:          30 * time.Second,
		DefaultBackupCommand: "show running-config",
		VendorBackupCommands: make(map[string]string),
	}
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Device operations
	CreateDevice(ctx context.Context, device *Device) error
	GetDevice(ctx context.Context, id int64) (*Device, error)
	GetDeviceByMAC(ctx context.Context, mac string) (*Device, error)
	ListDevices(ctx context.Context, limit, offset int) ([]*Device, error)
	UpdateDeviceStatus(ctx context.Context, id int64, status DeviceStatus, lastError *string) error
	MarkDeviceBackedUp(ctx context.Context, id int64, at time.Time) error

	// Vendor operations
	UpsertVendor(ctx context.Context, vendor *Vendor) error
	GetVendor(ctx context.Context, id string) (*Vendor, error)

	// Group operations
	CreateGroup(ctx context.Context, group *Group) error
	GetGroup(ctx context.Context, id int64) (*Group, error)
	ListGroups(ctx context.Context) ([]*Group, error)
	SetGroupParent(ctx context.Context, id int64, parentID *int64) error
	AddDeviceToGroup(ctx context.Context, deviceID, groupID int64) error
	ListDeviceGroupIDs(ctx context.Context, deviceID int64) ([]int64, error)

	// Variable operations
	SetGroupVariable(ctx context.Context, groupID int64, key, value string) error
	ListGroupVariables(ctx context.Context, groupID int64) ([]Variable, error)
	SetDeviceVariable(ctx context.Context, deviceID int64, key, value string) error
	ListDeviceVariables(ctx context.Context, deviceID int64) ([]Variable, error)

	// Template operations
	UpsertTemplate(ctx context.Context, tmpl *Template) error
	GetTemplate(ctx context.Context, id string) (*Template, error)

	// Credential operations
	CreateCredential(ctx context.Context, cred *Credential) error
	GetCredential(ctx context.Context, id int64) (*Credential, error)

	// Job operations
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	MarkJobRunning(ctx context.Context, id string, startedAt time.Time) error
	CompleteJob(ctx context.Context, id string, output string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	ListJobsByStatus(ctx context.Context, statuses ...JobStatus) ([]*Job, error)

	// Backup operations
	CreateBackup(ctx context.Context, backup *Backup) error
	ListBackupsByDevice(ctx context.Context, deviceID int64) ([]*Backup, error)

	// Settings operations
	GetSettings(ctx context.Context) (*Settings, error)
	PutSetting(ctx context.Context, key, value string) error

	// Utility
	HealthCheck(ctx context.Context) error
}
