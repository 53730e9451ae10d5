package model

import (
	"reflect"
	"testing"
)

func TestNormalizeURL(t *testing.T) {
	got, err := NormalizeURL("www.youtube.com/@creator/")
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if got != "https://www.youtube.com/@creator" {
		t.Fatalf("unexpected normalized URL: %q", got)
	}

	if _, err := NormalizeURL("   "); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestBuildDownloadURLsChannel(t *testing.T) {
	src := Source{Kind: KindChannel, URL: "https://www.youtube.com/@creator"}
	urls, err := src.BuildDownloadURLs(true)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	want := []string{
		"https://www.youtube.com/@creator/videos",
		"https://www.youtube.com/@creator/shorts",
	}
	if !reflect.DeepEqual(urls, want) {
		t.Fatalf("unexpected urls: %v", urls)
	}
}

func TestBuildDownloadURLsKeepsExistingTab(t *testing.T) {
	src := Source{Kind: KindChannel, URL: "https://www.youtube.com/@creator/shorts"}
	urls, err := src.BuildDownloadURLs(true)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	// The shorts tab is already named; it must not be appended twice.
	want := []string{"https://www.youtube.com/@creator/shorts"}
	if !reflect.DeepEqual(urls, want) {
		t.Fatalf("unexpected urls: %v", urls)
	}
}

func TestBuildDownloadURLsNoShorts(t *testing.T) {
	src := Source{Kind: KindChannel, URL: "youtube.com/@creator/videos"}
	urls, err := src.BuildDownloadURLs(false)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(urls) != 1 || urls[0] != "https://youtube.com/@creator/videos" {
		t.Fatalf("unexpected urls: %v", urls)
	}
}

func TestBuildDownloadURLsNonChannel(t *testing.T) {
	src := Source{Kind: KindPlaylist, URL: "https://www.youtube.com/playlist?list=PL123"}
	urls, err := src.BuildDownloadURLs(true)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(urls) != 1 || urls[0] != "https://www.youtube.com/playlist?list=PL123" {
		t.Fatalf("unexpected urls: %v", urls)
	}
}

func TestStatusTransitions(t *testing.T) {
	if !CanTransition(StatusPending, StatusDownloading) {
		t.Fatal("pending -> downloading should be allowed")
	}
	if !CanTransition(StatusFailed, StatusDownloading) {
		t.Fatal("failed -> downloading should be allowed for retries")
	}
	if CanTransition(StatusCompleted, StatusPending) {
		t.Fatal("completed is terminal")
	}

	status := StatusPending
	if err := TransitionStatus(&status, StatusDownloading); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if status != StatusDownloading {
		t.Fatalf("status not updated: %q", status)
	}
	if err := TransitionStatus(&status, StatusPending); err == nil {
		t.Fatal("downloading -> pending should be rejected")
	}
}
