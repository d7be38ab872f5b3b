package netlinkx

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestFakeAddDeleteRoute(t *testing.T) {
	f := NewFake()
	_, dst, _ := net.ParseCIDR("0.0.0.0/0")
	gw := net.ParseIP("192.0.2.1")

	if err := f.AddRoute(context.Background(), 254, dst, gw, 2); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}
	if len(f.Added) != 1 {
		t.Fatalf("want 1 recorded add, got %d", len(f.Added))
	}
	routes, err := f.DumpRoutes(context.Background(), 254)
	if err != nil {
		t.Fatalf("DumpRoutes: %v", err)
	}
	if len(routes) != 1 || !routes[0].Gateway.Equal(gw) {
		t.Fatalf("unexpected dumped routes: %+v", routes)
	}

	if err := f.DeleteRoute(context.Background(), 254, dst, gw, 2); err != nil {
		t.Fatalf("DeleteRoute: %v", err)
	}
	routes, err = f.DumpRoutes(context.Background(), 254)
	if err != nil {
		t.Fatalf("DumpRoutes after delete: %v", err)
	}
	if len(routes) != 0 {
		t.Fatalf("want empty route table after delete, got %+v", routes)
	}
}

func TestFakeLinkNameToIndexNotFound(t *testing.T) {
	f := NewFake()
	if _, err := f.LinkNameToIndex(context.Background(), "eth0"); err == nil {
		t.Fatal("want error for unknown link name")
	}
	f.LinkIndex["eth0"] = 3
	idx, err := f.LinkNameToIndex(context.Background(), "eth0")
	if err != nil || idx != 3 {
		t.Fatalf("LinkNameToIndex = %d, %v; want 3, nil", idx, err)
	}
}

func TestFakeSubscribeEmit(t *testing.T) {
	f := NewFake()
	stream, err := f.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stream.Close()

	f.Emit(Event{Kind: EventNewRoute, Route: &RouteRecord{LinkIndex: 1}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Kind != EventNewRoute {
		t.Fatalf("got kind %v, want EventNewRoute", ev.Kind)
	}
}

func TestFakeAddRouteError(t *testing.T) {
	f := NewFake()
	f.AddErr = errFakeStreamClosed
	_, dst, _ := net.ParseCIDR("::/0")
	if err := f.AddRoute(context.Background(), 254, dst, nil, 1); err == nil {
		t.Fatal("want AddErr to propagate")
	}
}
