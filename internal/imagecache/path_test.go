package imagecache

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestDigestKnownVectors(t *testing.T) {
	cases := map[string]string{
		"":    "da39a3ee5e6b4b0d3255bfef95601890afd80709",
		"abc": "a9993e364706816aba3e25717850c26c9cd0d89d",
	}
	for input, want := range cases {
		if got := Digest(input); got != want {
			t.Fatalf("Digest(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestExtension(t *testing.T) {
	testCases := []struct {
		name   string
		source string
		want   string
	}{
		{"png", "https://x/y/cat.png", ".png"},
		{"query stripped", "https://x/y/cat.png?size=2", ".png"},
		{"no extension", "https://x/y/cat", ".jpg"},
		{"trailing slash", "https://x/y/", ".jpg"},
		{"last dot wins", "https://x/y/cat.v2.webp", ".webp"},
		{"dot only in query", "https://x/y/cat?v=1.2", ".jpg"},
		{"dot in parent dir", "https://x/y.d/cat", ".jpg"},
		{"local file", "/var/mobile/Containers/photo.HEIC", ".HEIC"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Extension(tc.source); got != tc.want {
				t.Fatalf("Extension(%q) = %q, want %q", tc.source, got, tc.want)
			}
		})
	}
}

func TestDerivePathDeterministic(t *testing.T) {
	source := "https://cdn.example.com/badge1.png"
	first := DerivePath("/cache/images", source)
	second := DerivePath("/cache/images", source)
	if first != second {
		t.Fatalf("DerivePath should be deterministic: %s vs %s", first, second)
	}
	want := filepath.Join("/cache/images", Digest(source)+".png")
	if first != want {
		t.Fatalf("DerivePath = %s, want %s", first, want)
	}
	if other := DerivePath("/cache/images", source+"?v=2"); other == first {
		t.Fatalf("different sources should map to different paths")
	}
}

func TestFileNameIsFlat(t *testing.T) {
	name := FileName("https://cdn.example.com/a/b/c/photo.jpeg?x=1")
	if strings.ContainsAny(name, `/\?`) {
		t.Fatalf("file name should not contain path or query characters: %s", name)
	}
	if !strings.HasSuffix(name, ".jpeg") {
		t.Fatalf("file name should keep extension: %s", name)
	}
}

func TestIsRemote(t *testing.T) {
	if !IsRemote("https://cdn.example.com/a.png") {
		t.Fatalf("https source should be remote")
	}
	if !IsRemote("http://cdn.example.com/a.png") {
		t.Fatalf("http source should be remote")
	}
	if IsRemote("/var/mobile/photo.png") {
		t.Fatalf("plain path should be local")
	}
}
