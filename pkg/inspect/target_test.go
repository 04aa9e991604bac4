package inspect

import (
	"errors"
	"testing"

	"github.com/labgrid-ui/lgsync/pkg/wire"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		place    string
		selector Selector
		resource bool
		wantErr  error
	}{
		{name: "place", input: "rpi-4", place: "rpi-4"},
		{name: "place with spaces", input: "  rpi-4 ", place: "rpi-4"},
		{
			name:     "exporter group",
			input:    "exp1/lab",
			selector: Selector{Exporter: "exp1", Group: "lab", Class: "*", Name: "*"},
			resource: true,
		},
		{
			name:     "full path",
			input:    "exp1/lab/USBSerialPort/usb2",
			selector: Selector{Exporter: "exp1", Group: "lab", Class: "USBSerialPort", Name: "usb2"},
			resource: true,
		},
		{
			name:     "wildcards",
			input:    "exp*/*/USB*",
			selector: Selector{Exporter: "exp*", Group: "*", Class: "USB*", Name: "*"},
			resource: true,
		},
		{name: "empty", input: "", wantErr: ErrEmptyTarget},
		{name: "leading slash", input: "/exp1/lab", wantErr: ErrInvalidTarget},
		{name: "trailing slash", input: "exp1/", wantErr: ErrInvalidTarget},
		{name: "double slash", input: "exp1//x", wantErr: ErrInvalidTarget},
		{name: "too long", input: "a/b/c/d/e", wantErr: ErrInvalidTarget},
		{name: "bad pattern", input: "exp1/[lab", wantErr: ErrInvalidTarget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTarget(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseTarget(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTarget(%q) unexpected error: %v", tt.input, err)
			}
			if got.Place != tt.place {
				t.Errorf("Place = %q, want %q", got.Place, tt.place)
			}
			if got.IsResource != tt.resource {
				t.Errorf("IsResource = %v, want %v", got.IsResource, tt.resource)
			}
			if got.Selector != tt.selector {
				t.Errorf("Selector = %+v, want %+v", got.Selector, tt.selector)
			}
		})
	}
}

func TestSelectorMatch(t *testing.T) {
	p := wire.Path{Exporter: "exp1", Group: "lab", Class: "USBSerialPort", Name: "usb2"}

	tests := []struct {
		sel  Selector
		want bool
	}{
		{Selector{Exporter: "exp1", Group: "*", Class: "*", Name: "*"}, true},
		{Selector{Exporter: "exp?", Group: "lab", Class: "USB*", Name: "usb[0-9]"}, true},
		{Selector{Exporter: "exp2", Group: "*", Class: "*", Name: "*"}, false},
		{Selector{Exporter: "exp1", Group: "lab", Class: "NetworkService", Name: "*"}, false},
		{Selector{}, true},
	}
	for _, tt := range tests {
		if got := tt.sel.Match(p); got != tt.want {
			t.Errorf("%s.Match(%s) = %v, want %v", tt.sel, p, got, tt.want)
		}
	}
}

func TestParseTags(t *testing.T) {
	tags, err := ParseTags([]string{"board=rpi4", "owner="})
	if err != nil {
		t.Fatalf("ParseTags: %v", err)
	}
	if tags["board"] != "rpi4" {
		t.Errorf("board = %q", tags["board"])
	}
	if v, ok := tags["owner"]; !ok || v != "" {
		t.Errorf("owner = %q, %v; want empty value present", v, ok)
	}

	if _, err := ParseTags([]string{"noequals"}); err == nil {
		t.Error("expected error for missing '='")
	}
	if _, err := ParseTags([]string{"=value"}); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestParseFilters(t *testing.T) {
	filters, err := ParseFilters([]string{"board=rpi4", "main:arch=arm", "aux:board=bbb"})
	if err != nil {
		t.Fatalf("ParseFilters: %v", err)
	}
	if len(filters) != 2 {
		t.Fatalf("got %d filters, want 2", len(filters))
	}
	if filters["main"]["board"] != "rpi4" || filters["main"]["arch"] != "arm" {
		t.Errorf("main = %v", filters["main"])
	}
	if filters["aux"]["board"] != "bbb" {
		t.Errorf("aux = %v", filters["aux"])
	}

	if _, err := ParseFilters(nil); err == nil {
		t.Error("expected error for no filters")
	}
	if _, err := ParseFilters([]string{":board=x"}); err == nil {
		t.Error("expected error for empty filter name")
	}
}
