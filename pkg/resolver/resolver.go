// Package resolver computes a device's configuration variables by layering the "all"
// group, every inherited group and the device's own host variables.
package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/ztpkit/ztpkit/pkg/engine"
	"github.com/ztpkit/ztpkit/pkg/stores"
)

// Resolver resolves variables against a catalog. It never mutates state except
// through Reparent.
type Resolver struct {
	catalog Catalog
}

// New creates a resolver over the given catalog.
func New(catalog Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve computes the merged variables of a device together with per-key provenance
// and the ordered layers that produced them. Only catalog access errors are returned.
func (r *Resolver) Resolve(ctx context.Context, deviceID int64) (*Result, error) {
	device, err := r.catalog.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	groupList, err := r.catalog.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load group catalog: %w", err)
	}
	groups := make(map[int64]*stores.Group, len(groupList))
	for _, g := range groupList {
		groups[g.ID] = g
	}

	memberships, err := r.catalog.ListDeviceGroupIDs(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load device groups: %w", err)
	}

	allVars, err := r.groupVariables(ctx, stores.AllGroupID)
	if err != nil {
		return nil, err
	}
	allName := stores.AllGroupName
	if root, ok := groups[stores.AllGroupID]; ok {
		allName = root.Name
	}

	layers := []Layer{{
		SourceID:   stores.AllGroupID,
		SourceName: allName,
		SourceType: SourceAll,
		Precedence: 0,
		Depth:      0,
		Variables:  allVars,
	}}

	for _, rg := range Order(groups, memberships) {
		vars, err := r.groupVariables(ctx, rg.Group.ID)
		if err != nil {
			return nil, err
		}
		layers = append(layers, Layer{
			SourceID:   rg.Group.ID,
			SourceName: rg.Group.Name,
			SourceType: SourceGroup,
			Precedence: rg.Group.Precedence,
			Depth:      rg.Depth,
			Variables:  vars,
		})
	}

	hostVars, err := r.catalog.ListDeviceVariables(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load host variables: %w", err)
	}
	hostName := device.Hostname
	if hostName == "" {
		hostName = device.MAC
	}
	layers = append(layers, Layer{
		SourceID:   device.ID,
		SourceName: hostName,
		SourceType: SourceHost,
		Precedence: HostLayerPrecedence,
		Depth:      len(layers),
		Variables:  toMap(hostVars),
	})

	merged, resolved := Merge(layers)
	return &Result{
		DeviceID:  deviceID,
		Variables: merged,
		Resolved:  resolved,
		Layers:    layers,
	}, nil
}

func (r *Resolver) groupVariables(ctx context.Context, groupID int64) (map[string]string, error) {
	vars, err := r.catalog.ListGroupVariables(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load variables of group %d: %w", groupID, err)
	}
	return toMap(vars), nil
}

// Merge applies layers left to right. Later layers overwrite earlier ones, and each
// key remembers the last layer that set it. Resolved entries are sorted by key.
func Merge(layers []Layer) (map[string]string, []ResolvedVariable) {
	merged := make(map[string]string)
	provenance := make(map[string]ResolvedVariable)

	for _, layer := range layers {
		for k, v := range layer.Variables {
			merged[k] = v
			provenance[k] = ResolvedVariable{
				Key:        k,
				Value:      v,
				Source:     layer.SourceID,
				SourceName: layer.SourceName,
				SourceType: layer.SourceType,
			}
		}
	}

	resolved := make([]ResolvedVariable, 0, len(provenance))
	for _, rv := range provenance {
		resolved = append(resolved, rv)
	}
	sort.Slice(resolved, func(i, j int) bool { return resolved[i].Key < resolved[j].Key })

	return merged, resolved
}

// Reparent moves a group under a new parent after validating the move. A nil parent
// attaches the group to "all". The "all" group itself cannot be moved.
func (r *Resolver) Reparent(ctx context.Context, groupID int64, parentID *int64) error {
	if groupID == stores.AllGroupID {
		return engine.NewValidationError("the all group cannot be reparented", nil).
			WithResource(fmt.Sprintf("group/%d", groupID))
	}

	target := stores.AllGroupID
	if parentID != nil {
		target = *parentID
	}

	groups, err := r.catalog.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("failed to load group catalog: %w", err)
	}

	var found, parentFound bool
	for _, g := range groups {
		found = found || g.ID == groupID
		parentFound = parentFound || g.ID == target
	}
	if !found {
		return engine.NewNotFoundError("group not found", nil).WithResource(fmt.Sprintf("group/%d", groupID))
	}
	if !parentFound {
		return engine.NewNotFoundError("parent group not found", nil).WithResource(fmt.Sprintf("group/%d", target))
	}

	if WouldCreateCycle(groups, groupID, target) {
		return engine.NewValidationError(
			fmt.Sprintf("setting parent of group %d to %d would create a cycle", groupID, target), nil).
			WithCode(engine.ErrCodeCycle).
			WithResource(fmt.Sprintf("group/%d", groupID))
	}

	return r.catalog.SetGroupParent(ctx, groupID, &target)
}

func toMap(vars []stores.Variable) map[string]string {
	m := make(map[string]string, len(vars))
	for _, v := range vars {
		m[v.Key] = v.Value
	}
	return m
}
