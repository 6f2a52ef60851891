package topic

import "testing"

func TestBuilder(t *testing.T) {
	b := NewBuilder("bmw/")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"status", b.Status(), "bmw/status"},
		{"raw with rest", b.Raw("/WBA12345678901234/telemetry"), "bmw/raw/WBA12345678901234/telemetry"},
		{"raw without rest", b.Raw(""), "bmw/raw"},
		{"vehicle property", b.VehicleProperty("WBA12345678901234", "soc"), "bmw/vehicles/WBA12345678901234/soc"},
		{"vehicle wildcard", b.VehicleWildcard(), "bmw/vehicles/+/#"},
		{"all wildcard", b.AllWildcard(), "bmw/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestVendorStream(t *testing.T) {
	got := VendorStream("d9e56c24-8b13-4a2e-9d91-4a8a2f0c7b11")
	want := "d9e56c24-8b13-4a2e-9d91-4a8a2f0c7b11/+"
	if got != want {
		t.Errorf("VendorStream = %q, want %q", got, want)
	}
}
