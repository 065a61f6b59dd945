package finalize

import (
	"strings"
	"testing"
)

func TestMaxSequence(t *testing.T) {
	tests := []struct {
		name   string
		titles []string
		want   int
	}{
		{"no records", nil, 0},
		{"highest wins", []string{"P25003_Alpha", "P25007_Beta", "P25005"}, 7},
		{"other years ignored", []string{"P24099_Old", "P25002_New"}, 2},
		{"other prefixes ignored", []string{"A25050_Offer", "p25009_lower"}, 0},
		{"free text ignored", []string{"Project P25010", "  P25011_padded"}, 11},
		{"longer numbers ignored", []string{"P250071_x", "P25004 Gamma", "P25002"}, 4},
	}
	pattern := SequencePattern("P", "25")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaxSequence(pattern, tt.titles); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestFormatNumber(t *testing.T) {
	if got := FormatNumber("P", "25", 8); got != "P25008" {
		t.Errorf("expected P25008, got %s", got)
	}
	if got := FormatNumber("A", "26", 1); got != "A26001" {
		t.Errorf("expected A26001, got %s", got)
	}
}

func TestFolderName(t *testing.T) {
	tests := map[string]string{
		"P25008_Apollo":           "P25008_Apollo",
		`P25008_A/B: "C" <d>?`:    "P25008_AB C d",
		"P25008_Tom & Jerry #1":   "P25008_Tom Jerry 1",
		"P25008_  spaced   out. ": "P25008_ spaced out",
		"P25008_{x}~%|*":          "P25008_x",
	}
	for in, want := range tests {
		if got := FolderName(in); got != want {
			t.Errorf("FolderName(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"P25008_Apollo":        "p25008-apollo",
		"Müller & Söhne GmbH":  "mueller-soehne-gmbh",
		"Straße über Öl":       "strasse-ueber-oel",
		"Café Élan":            "cafe-elan",
		"  --Hello,  World!--": "hello-world",
	}
	for in, want := range tests {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestChannelName(t *testing.T) {
	if got := ChannelName("prj", "P25008_Apollo"); got != "prj_p25008-apollo" {
		t.Errorf("unexpected channel name %q", got)
	}
	long := ChannelName("prj", "P25008_"+strings.Repeat("very long name ", 10))
	if len(long) > MaxChannelName {
		t.Errorf("channel name exceeds %d chars: %d", MaxChannelName, len(long))
	}
	if strings.HasSuffix(long, "-") {
		t.Errorf("channel name should not end with a separator: %q", long)
	}
}
