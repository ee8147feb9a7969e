package services

import "testing"

func TestExtractVideoID(t *testing.T) {
	cases := []struct {
		url      string
		expected string
		wantErr  bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s", "dQw4w9WgXcQ", false},
		{"https://example.com/watch?v=dQw4w9WgXcQ", "", true},
		{"not a url", "", true},
	}

	for _, tc := range cases {
		got, err := ExtractVideoID(tc.url)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("expected error for %q, got id %q", tc.url, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", tc.url, err)
		}
		if got != tc.expected {
			t.Fatalf("expected %q for %q, got %q", tc.expected, tc.url, got)
		}
	}
}

func TestParseCaptionsXML(t *testing.T) {
	xml := `<?xml version="1.0" encoding="utf-8"?>
<transcript>
	<text start="0.0" dur="2.5">Hello &amp; welcome</text>
	<text start="2.5" dur="3.0">to the video</text>
	<text start="5.5" dur="1.0">  </text>
</transcript>`

	got, err := parseCaptionsXML([]byte(xml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Hello & welcome to the video" {
		t.Fatalf("unexpected transcript: %q", got)
	}
}

func TestParseCaptionsXML_Empty(t *testing.T) {
	if _, err := parseCaptionsXML([]byte(`<transcript></transcript>`)); err == nil {
		t.Fatalf("expected error for empty captions")
	}
}
