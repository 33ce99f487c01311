package domain

import "testing"

func TestFeatureGetProperty(t *testing.T) {
	feature := Feature{
		ID: 1,
		Properties: map[string]interface{}{
			"name":  "test feature",
			"count": 42,
			"nil":   nil,
		},
	}

	tests := []struct {
		name    string
		key     string
		wantVal interface{}
		wantOK  bool
	}{
		{"existing string", "name", "test feature", true},
		{"existing int", "count", 42, true},
		{"existing nil", "nil", nil, true},
		{"non-existing", "missing", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, ok := feature.GetProperty(tt.key)
			if ok != tt.wantOK {
				t.Errorf("GetProperty(%q) ok = %v, want %v", tt.key, ok, tt.wantOK)
			}
			if val != tt.wantVal {
				t.Errorf("GetProperty(%q) val = %v, want %v", tt.key, val, tt.wantVal)
			}
		})
	}
}

func TestFeatureGetPropertyNilMap(t *testing.T) {
	feature := Feature{ID: 1}

	val, ok := feature.GetProperty("anything")
	if ok {
		t.Error("GetProperty on nil map should return false")
	}
	if val != nil {
		t.Error("GetProperty on nil map should return nil")
	}
}

func TestGeometryIsEmpty(t *testing.T) {
	tests := []struct {
		name string
		geom Geometry
		want bool
	}{
		{"empty", Geometry{}, true},
		{"typed but no data", Geometry{Type: GeomPoint, SRID: SRIDWGS84}, true},
		{"with wkb", Geometry{Type: GeomPoint, WKB: []byte{1, 1, 0, 0, 0}, SRID: SRIDWGS84}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.geom.IsEmpty(); got != tt.want {
				t.Errorf("IsEmpty() = %v, want %v", got, tt.want)
			}
		})
	}
}
