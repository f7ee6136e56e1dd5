package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/ztpkit/ztpkit/pkg/engine"
	"github.com/ztpkit/ztpkit/pkg/stores"
)

// fakeCatalog is an in-memory Catalog.
type fakeCatalog struct {
	devices     map[int64]*stores.Device
	groups      map[int64]*stores.Group
	groupVars   map[int64]map[string]string
	deviceVars  map[int64]map[string]string
	memberships map[int64][]int64
	listErr     error
}

func newFakeCatalog() *fakeCatalog {
	c := &fakeCatalog{
		devices:     map[int64]*stores.Device{},
		groups:      map[int64]*stores.Group{},
		groupVars:   map[int64]map[string]string{},
		deviceVars:  map[int64]map[string]string{},
		memberships: map[int64][]int64{},
	}
	c.groups[stores.AllGroupID] = &stores.Group{ID: stores.AllGroupID, Name: stores.AllGroupName, Precedence: 0}
	return c
}

func (c *fakeCatalog) addGroup(id int64, name string, parent int64, precedence int) {
	p := parent
	c.groups[id] = &stores.Group{ID: id, Name: name, ParentID: &p, Precedence: precedence}
}

func (c *fakeCatalog) setVar(groupID int64, k, v string) {
	if c.groupVars[groupID] == nil {
		c.groupVars[groupID] = map[string]string{}
	}
	c.groupVars[groupID][k] = v
}

func (c *fakeCatalog) addDevice(id int64, groups ...int64) {
	c.devices[id] = &stores.Device{ID: id, MAC: "00:00:00:00:00:01", Hostname: "sw1"}
	c.memberships[id] = groups
}

func (c *fakeCatalog) GetDevice(_ context.Context, id int64) (*stores.Device, error) {
	d, ok := c.devices[id]
	if !ok {
		return nil, engine.NewNotFoundError("device not found", nil)
	}
	return d, nil
}

func (c *fakeCatalog) ListGroups(_ context.Context) ([]*stores.Group, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	out := make([]*stores.Group, 0, len(c.groups))
	for _, g := range c.groups {
		out = append(out, g)
	}
	return out, nil
}

func (c *fakeCatalog) ListDeviceGroupIDs(_ context.Context, id int64) ([]int64, error) {
	return c.memberships[id], nil
}

func (c *fakeCatalog) ListGroupVariables(_ context.Context, id int64) ([]stores.Variable, error) {
	return toVariables(c.groupVars[id]), nil
}

func (c *fakeCatalog) ListDeviceVariables(_ context.Context, id int64) ([]stores.Variable, error) {
	return toVariables(c.deviceVars[id]), nil
}

func (c *fakeCatalog) SetGroupParent(_ context.Context, id int64, parentID *int64) error {
	g, ok := c.groups[id]
	if !ok {
		return engine.NewNotFoundError("group not found", nil)
	}
	g.ParentID = parentID
	return nil
}

func toVariables(m map[string]string) []stores.Variable {
	out := make([]stores.Variable, 0, len(m))
	for k, v := range m {
		out = append(out, stores.Variable{Key: k, Value: v})
	}
	return out
}

func TestResolvePrecedenceAllGroupHost(t *testing.T) {
	c := newFakeCatalog()
	c.addGroup(2, "A", stores.AllGroupID, 10)
	c.addGroup(3, "B", 2, 5)
	c.setVar(stores.AllGroupID, "x", "1")
	c.setVar(2, "x", "2")
	c.setVar(3, "x", "3")
	c.addDevice(100, 2, 3)

	res, err := New(c).Resolve(context.Background(), 100)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if res.Variables["x"] != "3" {
		t.Errorf("expected x=3 from the deeper group, got %q", res.Variables["x"])
	}

	wantOrder := []string{"all", "A", "B", "sw1"}
	if len(res.Layers) != len(wantOrder) {
		t.Fatalf("expected %d layers, got %d", len(wantOrder), len(res.Layers))
	}
	for i, name := range wantOrder {
		if res.Layers[i].SourceName != name {
			t.Errorf("layer %d: expected %s, got %s", i, name, res.Layers[i].SourceName)
		}
	}
	if res.Layers[2].Depth != 2 {
		t.Errorf("expected B at depth 2, got %d", res.Layers[2].Depth)
	}

	if len(res.Resolved) != 1 || res.Resolved[0].SourceName != "B" || res.Resolved[0].SourceType != SourceGroup {
		t.Errorf("expected provenance from B, got %+v", res.Resolved)
	}
}

func TestResolveSiblingTieBreak(t *testing.T) {
	c := newFakeCatalog()
	c.addGroup(2, "C", stores.AllGroupID, 1)
	c.addGroup(3, "D", stores.AllGroupID, 5)
	c.setVar(2, "y", "c")
	c.setVar(3, "y", "d")
	// membership order must not matter
	c.addDevice(100, 3, 2)

	res, err := New(c).Resolve(context.Background(), 100)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Variables["y"] != "d" {
		t.Errorf("expected higher precedence sibling to win, got %q", res.Variables["y"])
	}
}

func TestResolveHostOverrideIsAbsolute(t *testing.T) {
	c := newFakeCatalog()
	c.addGroup(2, "deep", stores.AllGroupID, 99999)
	c.addGroup(3, "deeper", 2, 99999)
	c.setVar(stores.AllGroupID, "k", "all")
	c.setVar(2, "k", "deep")
	c.setVar(3, "k", "deeper")
	c.addDevice(100, 3)
	c.deviceVars[100] = map[string]string{"k": "host"}

	res, err := New(c).Resolve(context.Background(), 100)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Variables["k"] != "host" {
		t.Errorf("expected host value, got %q", res.Variables["k"])
	}
	last := res.Layers[len(res.Layers)-1]
	if last.SourceType != SourceHost {
		t.Errorf("expected host layer last, got %s", last.SourceType)
	}
}

func TestResolveCycleSafety(t *testing.T) {
	c := newFakeCatalog()
	c.addGroup(2, "G1", 3, 10)
	c.addGroup(3, "G2", 2, 10)
	c.setVar(2, "a", "g1")
	c.setVar(3, "a", "g2")
	c.addDevice(100, 2)

	res, err := New(c).Resolve(context.Background(), 100)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	// G2 sits above G1 in the walk, so G1 wins
	if res.Variables["a"] != "g1" {
		t.Errorf("expected a=g1, got %q", res.Variables["a"])
	}
	if len(res.Layers) != 4 {
		t.Errorf("expected all, G2, G1, host layers, got %d", len(res.Layers))
	}
}

func TestResolveMinimumDepth(t *testing.T) {
	c := newFakeCatalog()
	// shared is reachable directly (depth 1) and through leaf (depth 2 via mid)
	c.addGroup(2, "shared", stores.AllGroupID, 50)
	c.addGroup(3, "mid", stores.AllGroupID, 1)
	c.addGroup(4, "leaf", 3, 1)
	c.setVar(2, "v", "shared")
	c.setVar(3, "v", "mid")
	c.addDevice(100, 4, 2)

	groups := map[int64]*stores.Group{}
	list, _ := c.ListGroups(context.Background())
	for _, g := range list {
		groups[g.ID] = g
	}
	ranked := Order(groups, c.memberships[100])
	depths := map[string]int{}
	for _, rg := range ranked {
		depths[rg.Group.Name] = rg.Depth
	}
	if depths["shared"] != 1 || depths["mid"] != 1 || depths["leaf"] != 2 {
		t.Errorf("unexpected depths: %v", depths)
	}

	res, err := New(c).Resolve(context.Background(), 100)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	// mid (precedence 1) and shared (precedence 50) share depth 1
	if res.Variables["v"] != "shared" {
		t.Errorf("expected shared to win at equal depth, got %q", res.Variables["v"])
	}
}

func TestResolveEdgeCases(t *testing.T) {
	t.Run("no memberships", func(t *testing.T) {
		c := newFakeCatalog()
		c.setVar(stores.AllGroupID, "dns", "1.1.1.1")
		c.addDevice(100)

		res, err := New(c).Resolve(context.Background(), 100)
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		if len(res.Layers) != 2 {
			t.Errorf("expected all and host layers only, got %d", len(res.Layers))
		}
		if res.Variables["dns"] != "1.1.1.1" {
			t.Errorf("expected inherited dns, got %q", res.Variables["dns"])
		}
	})

	t.Run("empty group still listed", func(t *testing.T) {
		c := newFakeCatalog()
		c.addGroup(2, "empty", stores.AllGroupID, 1)
		c.addDevice(100, 2)

		res, err := New(c).Resolve(context.Background(), 100)
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		if len(res.Layers) != 3 || res.Layers[1].SourceName != "empty" {
			t.Errorf("expected empty group layer, got %+v", res.Layers)
		}
		if len(res.Layers[1].Variables) != 0 {
			t.Errorf("expected no variables, got %v", res.Layers[1].Variables)
		}
	})

	t.Run("storage error propagates", func(t *testing.T) {
		c := newFakeCatalog()
		c.addDevice(100)
		c.listErr = errors.New("disk gone")

		if _, err := New(c).Resolve(context.Background(), 100); err == nil {
			t.Error("expected storage error to propagate")
		}
	})
}

func TestWouldCreateCycle(t *testing.T) {
	root := stores.AllGroupID
	g := func(id int64, parent *int64) *stores.Group { return &stores.Group{ID: id, ParentID: parent} }
	two, three := int64(2), int64(3)
	groups := []*stores.Group{
		g(root, nil),
		g(2, &root),
		g(3, &two),   // child of 2
		g(4, &three), // grandchild of 2
		g(5, &root),
	}

	tests := []struct {
		name      string
		group     int64
		newParent int64
		want      bool
	}{
		{"self", 2, 2, true},
		{"self root", root, root, true},
		{"direct child", 2, 3, true},
		{"grandchild", 2, 4, true},
		{"sibling", 2, 5, false},
		{"ancestor", 4, 2, false},
		{"to root", 4, root, false},
		{"unknown parent", 2, 42, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WouldCreateCycle(groups, tt.group, tt.newParent); got != tt.want {
				t.Errorf("WouldCreateCycle(%d, %d) = %v, want %v", tt.group, tt.newParent, got, tt.want)
			}
		})
	}
}

func TestReparent(t *testing.T) {
	c := newFakeCatalog()
	c.addGroup(2, "region", stores.AllGroupID, 10)
	c.addGroup(3, "site", 2, 10)
	r := New(c)
	ctx := context.Background()

	three := int64(3)
	if err := r.Reparent(ctx, 2, &three); !engine.IsValidation(err) {
		t.Errorf("expected validation error for cycle, got %v", err)
	}

	if err := r.Reparent(ctx, stores.AllGroupID, &three); !engine.IsValidation(err) {
		t.Errorf("expected validation error for reparenting all, got %v", err)
	}

	missing := int64(99)
	if err := r.Reparent(ctx, 3, &missing); !engine.IsNotFound(err) {
		t.Errorf("expected not found for missing parent, got %v", err)
	}

	if err := r.Reparent(ctx, 3, nil); err != nil {
		t.Fatalf("expected reparent to all to succeed: %v", err)
	}
	if p := c.groups[3].ParentID; p == nil || *p != stores.AllGroupID {
		t.Errorf("expected site under all, got %v", p)
	}
}
