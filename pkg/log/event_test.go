package log

import "testing"

func TestDirectionString(t *testing.T) {
	tests := []struct {
		d    Direction
		want string
	}{
		{DirectionIn, "IN"},
		{DirectionOut, "OUT"},
		{Direction(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.d.String(); got != tt.want {
				t.Errorf("Direction(%d).String() = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestLayerString(t *testing.T) {
	tests := []struct {
		l    Layer
		want string
	}{
		{LayerTransport, "TRANSPORT"},
		{LayerWire, "WIRE"},
		{LayerSession, "SESSION"},
		{Layer(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.l.String(); got != tt.want {
				t.Errorf("Layer(%d).String() = %q, want %q", tt.l, got, tt.want)
			}
		})
	}
}

func TestCategoryString(t *testing.T) {
	tests := []struct {
		c    Category
		want string
	}{
		{CategoryMessage, "MESSAGE"},
		{CategoryState, "STATE"},
		{CategoryError, "ERROR"},
		{Category(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.c.String(); got != tt.want {
				t.Errorf("Category(%d).String() = %q, want %q", tt.c, got, tt.want)
			}
		})
	}
}

func TestMessageTypeString(t *testing.T) {
	tests := []struct {
		m    MessageType
		want string
	}{
		{MessageTypeRequest, "REQUEST"},
		{MessageTypeResponse, "RESPONSE"},
		{MessageTypeStream, "STREAM"},
		{MessageType(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.m.String(); got != tt.want {
				t.Errorf("MessageType(%d).String() = %q, want %q", tt.m, got, tt.want)
			}
		})
	}
}

func TestStateEntityString(t *testing.T) {
	tests := []struct {
		s    StateEntity
		want string
	}{
		{StateEntityConnection, "CONNECTION"},
		{StateEntitySnapshot, "SNAPSHOT"},
		{StateEntityCommand, "COMMAND"},
		{StateEntity(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.s.String(); got != tt.want {
				t.Errorf("StateEntity(%d).String() = %q, want %q", tt.s, got, tt.want)
			}
		})
	}
}

// Encoded values are part of the capture file format.
func TestEnumValuesAreStable(t *testing.T) {
	if DirectionIn != 0 || DirectionOut != 1 {
		t.Error("Direction values changed")
	}
	if LayerTransport != 0 || LayerWire != 1 || LayerSession != 2 {
		t.Error("Layer values changed")
	}
	if CategoryMessage != 0 || CategoryState != 2 || CategoryError != 3 {
		t.Error("Category values changed")
	}
	if MessageTypeRequest != 0 || MessageTypeResponse != 1 || MessageTypeStream != 2 {
		t.Error("MessageType values changed")
	}
}
