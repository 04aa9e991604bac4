package inspect

import (
	"errors"
	"testing"

	"github.com/labgrid-ui/lgsync/pkg/snapshot"
	"github.com/labgrid-ui/lgsync/pkg/wire"
)

var (
	usb1 = wire.Path{Exporter: "exp1", Group: "lab", Class: "USBSerialPort", Name: "usb1"}
	usb2 = wire.Path{Exporter: "exp1", Group: "lab", Class: "USBSerialPort", Name: "usb2"}
	pdu  = wire.Path{Exporter: "exp10", Group: "rack", Class: "NetworkPowerPort", Name: "pdu"}
)

func testView() snapshot.View {
	return snapshot.View{
		Revision: 7,
		State:    snapshot.StateLive,
		Places: []snapshot.Place{
			{
				Place: wire.Place{
					Name:        "rpi-4",
					Acquired:    "bench/alice",
					Tags:        map[string]string{"board": "rpi4", "arch": "arm"},
					Reservation: "RES1",
				},
				Resources: []wire.Path{usb1},
			},
			{
				Place: wire.Place{Name: "x86", Tags: map[string]string{"arch": "x86"}},
			},
		},
		Resources: []snapshot.Resource{
			{Resource: wire.Resource{Path: usb1, Avail: true}, Place: "rpi-4"},
			{Resource: wire.Resource{Path: usb2}},
			{Resource: wire.Resource{Path: pdu, Avail: true}},
		},
		Reservations: []wire.Reservation{
			{Owner: "bench/alice", Token: "RES1", State: wire.ReservationAcquired},
		},
	}
}

func TestInspectPlace(t *testing.T) {
	i := NewInspector(testView())

	info, err := i.InspectPlace("rpi")
	if err != nil {
		t.Fatalf("InspectPlace: %v", err)
	}
	if info.Place.Name != "rpi-4" {
		t.Errorf("Name = %q", info.Place.Name)
	}
	if len(info.Resources) != 1 || info.Resources[0].Path != usb1 {
		t.Errorf("Resources = %v", info.Resources)
	}
	if info.Reservation == nil || info.Reservation.State != wire.ReservationAcquired {
		t.Errorf("Reservation = %v", info.Reservation)
	}

	if _, err := i.InspectPlace("arm"); !errors.Is(err, ErrPlaceNotFound) {
		t.Errorf("InspectPlace(arm) error = %v", err)
	}
}

func TestInspectorResources(t *testing.T) {
	i := NewInspector(testView())

	got := i.Resources(Selector{Exporter: "exp1", Group: "*", Class: "*", Name: "*"})
	if len(got) != 2 {
		t.Fatalf("got %d resources, want 2", len(got))
	}
	if got[0].Path != usb1 || got[1].Path != usb2 {
		t.Errorf("unexpected order: %v, %v", got[0].Path, got[1].Path)
	}

	if got := i.Resources(Selector{Class: "Network*"}); len(got) != 1 {
		t.Errorf("class selector returned %d resources", len(got))
	}
}

func TestInspectorPlacesByTag(t *testing.T) {
	i := NewInspector(testView())

	if got := i.Places(nil); len(got) != 2 {
		t.Errorf("Places(nil) = %d", len(got))
	}
	got := i.Places(map[string]string{"arch": "arm"})
	if len(got) != 1 || got[0].Name != "rpi-4" {
		t.Errorf("Places(arch=arm) = %v", got)
	}
	if got := i.Places(map[string]string{"arch": "arm", "board": "bbb"}); len(got) != 0 {
		t.Errorf("Places(arch=arm board=bbb) = %v", got)
	}
}

func TestInspectorExportersNaturalOrder(t *testing.T) {
	view := testView()
	view.Resources = append(view.Resources, snapshot.Resource{
		Resource: wire.Resource{Path: wire.Path{Exporter: "exp2", Group: "g", Class: "c", Name: "n"}},
	})

	got := NewInspector(view).Exporters()
	want := []string{"exp1", "exp2", "exp10"}
	if len(got) != len(want) {
		t.Fatalf("Exporters = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Exporters[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestInspectorReservation(t *testing.T) {
	i := NewInspector(testView())

	r, err := i.Reservation("RES1")
	if err != nil || r.Owner != "bench/alice" {
		t.Errorf("Reservation(RES1) = %v, %v", r, err)
	}
	if _, err := i.Reservation("nope"); !errors.Is(err, ErrReservationNotFound) {
		t.Errorf("Reservation(nope) error = %v", err)
	}
}

func TestSummarize(t *testing.T) {
	s := NewInspector(testView()).Summarize()
	want := Summary{
		Revision:     7,
		State:        snapshot.StateLive,
		Places:       2,
		Acquired:     1,
		Resources:    3,
		Available:    2,
		Unattached:   2,
		Reservations: 1,
	}
	if s != want {
		t.Errorf("Summarize = %+v, want %+v", s, want)
	}
}
