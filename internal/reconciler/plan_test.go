package reconciler

import (
	"net"
	"testing"
)

func cidr(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

func TestPlanDecisionTable(t *testing.T) {
	dest := cidr("0.0.0.0/0")
	gw1 := net.ParseIP("192.0.2.1")
	gw2 := net.ParseIP("192.0.2.2")

	t.Run("none/none is noop", func(t *testing.T) {
		if acts := plan(dest, nil, nil); len(acts) != 0 {
			t.Fatalf("want no actions, got %+v", acts)
		}
	})

	t.Run("none/some deletes current", func(t *testing.T) {
		cur := &currentRoute{destination: dest, gateway: gw1, linkIndex: 2}
		acts := plan(dest, nil, cur)
		if len(acts) != 1 || acts[0].kind != actionDelete {
			t.Fatalf("want single delete action, got %+v", acts)
		}
	})

	t.Run("some/none adds desired", func(t *testing.T) {
		d := &desiredRoute{address: gw1, linkIndex: 3}
		acts := plan(dest, d, nil)
		if len(acts) != 1 || acts[0].kind != actionAdd || !acts[0].gateway.Equal(gw1) {
			t.Fatalf("want single add action for gw1, got %+v", acts)
		}
	})

	t.Run("some/some matching gateway is noop", func(t *testing.T) {
		d := &desiredRoute{address: gw1, linkIndex: 3}
		cur := &currentRoute{destination: dest, gateway: gw1, linkIndex: 3}
		if acts := plan(dest, d, cur); len(acts) != 0 {
			t.Fatalf("want no actions when gateway already matches, got %+v", acts)
		}
	})

	t.Run("some/some mismatched gateway deletes then adds", func(t *testing.T) {
		d := &desiredRoute{address: gw2, linkIndex: 3}
		cur := &currentRoute{destination: dest, gateway: gw1, linkIndex: 2}
		acts := plan(dest, d, cur)
		if len(acts) != 2 || acts[0].kind != actionDelete || acts[1].kind != actionAdd {
			t.Fatalf("want delete-then-add, got %+v", acts)
		}
		if !acts[0].gateway.Equal(gw1) || !acts[1].gateway.Equal(gw2) {
			t.Fatalf("want delete of old gateway then add of new, got %+v", acts)
		}
	})
}
