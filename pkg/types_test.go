package pkg

import "testing"

func TestPOIValidate(t *testing.T) {
	tests := []struct {
		name    string
		poi     POI
		wantErr bool
	}{
		{"valid", POI{ID: "a", Lat: 10.759, Lng: 106.705, RadiusM: 25}, false},
		{"missing id", POI{Lat: 10, Lng: 106}, true},
		{"lat out of range", POI{ID: "a", Lat: 91, Lng: 0}, true},
		{"lng out of range", POI{ID: "a", Lat: 0, Lng: -181}, true},
		{"negative radius", POI{ID: "a", Lat: 0, Lng: 0, RadiusM: -1}, true},
		{"zero radius uses default", POI{ID: "a", Lat: 0, Lng: 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.poi.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPOIAudioURLFallback(t *testing.T) {
	poi := POI{
		ID: "a",
		AudioURLs: map[string]string{
			"en": "https://cdn.example.com/a_en.mp3",
			"vi": "https://cdn.example.com/a_vi.mp3",
			"fr": "",
		},
	}

	if url, ok := poi.AudioURL("vi"); !ok || url != "https://cdn.example.com/a_vi.mp3" {
		t.Fatalf("exact language match failed: %q %v", url, ok)
	}
	// Unknown and blank entries both fall back to English.
	if url, ok := poi.AudioURL("de"); !ok || url != "https://cdn.example.com/a_en.mp3" {
		t.Fatalf("missing language must fall back to en: %q %v", url, ok)
	}
	if url, ok := poi.AudioURL("fr"); !ok || url != "https://cdn.example.com/a_en.mp3" {
		t.Fatalf("blank language entry must fall back to en: %q %v", url, ok)
	}

	silent := POI{ID: "b", AudioURLs: map[string]string{"fr": ""}}
	if _, ok := silent.AudioURL("fr"); ok {
		t.Fatal("poi without usable audio must report none")
	}
}

func TestSignalErrorMessage(t *testing.T) {
	err := SignalError{Kind: SignalTimeout, Message: "gps timeout"}
	want := "position source timeout: gps timeout"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
