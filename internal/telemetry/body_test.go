package telemetry

import "testing"

func TestDecideBody_FetchAllOverridesEverything(t *testing.T) {
	d := DecideBody(true, "image/png", "http://example.com/x.png", 999999999, 10, false)
	if !d.Fetch {
		t.Fatal("fetchAllBodies should force a fetch")
	}
}

func TestDecideBody_SkipsNonTextMime(t *testing.T) {
	d := DecideBody(false, "image/png", "http://example.com/x", 100, DefaultMaxBodySize, false)
	if d.Fetch || d.SkipReason == "" {
		t.Fatalf("expected non-text mime to be skipped, got %+v", d)
	}
}

func TestDecideBody_SkipsByExtensionUnlessOverridden(t *testing.T) {
	d := DecideBody(false, "application/octet-stream", "http://cdn.example.com/font.woff2", 100, DefaultMaxBodySize, false)
	if d.Fetch {
		t.Fatal("expected extension-based skip")
	}

	d2 := DecideBody(false, "application/octet-stream", "http://cdn.example.com/font.woff2", 100, DefaultMaxBodySize, true)
	if !d2.Fetch {
		t.Fatal("expected user include override to bypass extension skip")
	}
}

func TestDecideBody_SizeOverLimit(t *testing.T) {
	d := DecideBody(false, "application/json", "http://example.com/data", 1048576, 1024, false)
	if d.Fetch {
		t.Fatal("expected oversized response to be skipped")
	}
	want := "Response too large (1048576 > 1024)"
	if d.SkipReason != want {
		t.Fatalf("expected %q, got %q", want, d.SkipReason)
	}
}

func TestDecideBody_NegativeOrAbsentLengthDoesNotSkip(t *testing.T) {
	d := DecideBody(false, "application/json", "http://example.com/data", -1, 1024, false)
	if !d.Fetch {
		t.Fatal("expected negative encodedDataLength to be treated as 0, not skipped on size")
	}
	d2 := DecideBody(false, "application/json", "http://example.com/data", 0, 1024, false)
	if !d2.Fetch {
		t.Fatal("expected absent (0) encodedDataLength to not trigger a size skip")
	}
}

func TestSkipMarker_Format(t *testing.T) {
	got := SkipMarker("Non-text response type")
	want := "[SKIPPED: Non-text response type]"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
