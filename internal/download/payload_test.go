package download

import (
	"path/filepath"
	"testing"
)

func TestNewPayloadJoinsFirstServerWithFilePath(t *testing.T) {
	p := NewPayload("repo/core.db", []string{"https://mirror.example/archive/"}, "/tmp/core.db")
	want := "https://mirror.example/archive/repo/core.db"
	if p.FileURL != want {
		t.Errorf("FileURL = %q, want %q", p.FileURL, want)
	}
}

func TestNewPayloadJoinsFirstServerWithoutTrailingSlash(t *testing.T) {
	p := NewPayload("core.db", []string{"https://mirror.example/archive"}, "/tmp/core.db")
	want := "https://mirror.example/archive/core.db"
	if p.FileURL != want {
		t.Errorf("FileURL = %q, want %q", p.FileURL, want)
	}
}

func TestAdvanceMirrorJoinsNextServerWithFilePath(t *testing.T) {
	p := NewPayload("core.db", []string{"https://a.example/", "https://b.example/"}, "/tmp/core.db")
	if !p.advanceMirror() {
		t.Fatal("advanceMirror() = false, want true (second server available)")
	}
	want := "https://b.example/core.db"
	if p.FileURL != want {
		t.Errorf("FileURL after advanceMirror = %q, want %q", p.FileURL, want)
	}
	if p.advanceMirror() {
		t.Error("advanceMirror() = true past the last server, want false")
	}
}

func TestNewPayloadRemoteNameFromDestPath(t *testing.T) {
	dest := filepath.Join("/cache", "core.db")
	p := NewPayload("core.db", []string{"https://mirror.example/"}, dest)
	if p.RemoteName != "core.db" {
		t.Errorf("RemoteName = %q, want core.db", p.RemoteName)
	}
}
