package subprocess

import (
	"context"
	"testing"
)

func TestCoverArtFetchRejectsLocalURL(t *testing.T) {
	f := NewCoverArtFetcher(nil)
	_, _, err := f.Fetch(context.Background(), "http://127.0.0.1:9/thumb.jpg")
	if err == nil {
		t.Fatal("expected local URL to be rejected")
	}
}

func TestCoverArtFetchRejectsBadScheme(t *testing.T) {
	f := NewCoverArtFetcher(nil)
	_, _, err := f.Fetch(context.Background(), "file:///etc/passwd")
	if err == nil {
		t.Fatal("expected non-http(s) scheme to be rejected")
	}
}
