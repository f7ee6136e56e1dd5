package resolver

import (
	"context"
	"math"

	"github.com/ztpkit/ztpkit/pkg/stores"
)

// SourceType identifies which kind of scope contributed a layer.
type SourceType string

const (
	SourceAll   SourceType = "all"
	SourceGroup SourceType = "group"
	SourceHost  SourceType = "host"
)

// HostLayerPrecedence is reported on the host layer, which is always applied last.
const HostLayerPrecedence = math.MaxInt32

// Layer is one ordered contribution to a device's resolved variables.
type Layer struct {
	SourceID   int64             `json:"source_id"`
	SourceName string            `json:"source_name"`
	SourceType SourceType        `json:"source_type"`
	Precedence int               `json:"precedence"`
	Depth      int               `json:"depth"`
	Variables  map[string]string `json:"variables"`
}

// ResolvedVariable is a key's final value and the layer that set it last.
type ResolvedVariable struct {
	Key        string     `json:"key"`
	Value      string     `json:"value"`
	Source     int64      `json:"source"`
	SourceName string     `json:"source_name"`
	SourceType SourceType `json:"source_type"`
}

// Result is the fully merged variable set of a device.
type Result struct {
	DeviceID  int64              `json:"device_id"`
	Variables map[string]string  `json:"variables"`
	Resolved  []ResolvedVariable `json:"resolved"`
	Layers    []Layer            `json:"resolution_order"`
}

// Catalog is the read side of the group/variable catalog plus the single write
// needed by Reparent.
type Catalog interface {
	GetDevice(ctx context.Context, id int64) (*stores.Device, error)
	ListGroups(ctx context.Context) ([]*stores.Group, error)
	ListDeviceGroupIDs(ctx context.Context, deviceID int64) ([]int64, error)
	ListGroupVariables(ctx context.Context, groupID int64) ([]stores.Variable, error)
	ListDeviceVariables(ctx context.Context, deviceID int64) ([]stores.Variable, error)
	SetGroupParent(ctx context.Context, id int64, parentID *int64) error
}
