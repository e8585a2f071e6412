package fetchctl

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/BurntSushi/toml"
)

func TestConfig(t *testing.T) {
	t.Parallel()

	c := NewConfig()
	configPath := filepath.Join("..", "..", "examples", "configs", "fetch-secure.toml")
	md, err := toml.DecodeFile(configPath, c)
	if err != nil {
		t.Fatal(err)
	}

	if len(md.Undecoded()) > 0 {
		t.Errorf("undecoded keys: %#v", md.Undecoded())
	}

	if c.Dir != "/var/cache/dlfetch" {
		t.Errorf(`c.Dir = %q, want "/var/cache/dlfetch"`, c.Dir)
	}
	if c.MaxConns != 8 {
		t.Errorf(`c.MaxConns = %d, want 8`, c.MaxConns)
	}

	if c.Log.Level != "info" {
		t.Errorf(`c.Log.Level = %q, want "info"`, c.Log.Level)
	}

	expectedTargets := 2 // kernel-image, release-notes
	if len(c.Targets) != expectedTargets {
		t.Fatalf(`len(c.Targets) = %d, want %d`, len(c.Targets), expectedTargets)
	}

	if kt, ok := c.Targets["kernel-image"]; !ok {
		t.Error(`kernel-image target not found`)
	} else {
		if len(kt.Servers) != 2 {
			t.Errorf(`kernel-image.Servers = %d entries, want 2`, len(kt.Servers))
		}
		if kt.FilePath != "dists/stable/kernel.img" {
			t.Errorf(`kernel-image.FilePath = %q, want "dists/stable/kernel.img"`, kt.FilePath)
		}
		if !kt.AllowResume {
			t.Error(`kernel-image.AllowResume should be true`)
		}
		if kt.MaxSize != 536870912 {
			t.Errorf(`kernel-image.MaxSize = %d, want 536870912`, kt.MaxSize)
		}
	}

	if rn, ok := c.Targets["release-notes"]; !ok {
		t.Error(`release-notes target not found`)
	} else {
		if !rn.ErrorsOk {
			t.Error(`release-notes.ErrorsOk should be true`)
		}
	}
}

func TestTargetConfig(t *testing.T) {
	t.Parallel()

	var c Config
	configPath := filepath.Join("..", "..", "examples", "configs", "fetch-secure.toml")
	_, err := toml.DecodeFile(configPath, &c)
	if err != nil {
		t.Fatal(err)
	}

	tc, ok := c.Targets["kernel-image"]
	if !ok {
		t.Fatal(`c.Targets["kernel-image"] not found`)
	}

	if err := tc.Check(); err != nil {
		t.Error(err)
	}

	u, err := tc.Resolve(0, "")
	if err != nil {
		t.Fatal(err)
	}
	correct := "https://mirror1.example.com/dists/stable/kernel.img"
	if u.String() != correct {
		t.Errorf(`tc.Resolve(0, "") = %q, want %q`, u.String(), correct)
	}

	urls := tc.URLs()
	if !reflect.DeepEqual(urls, []string{
		"https://mirror1.example.com/dists/stable/kernel.img",
		"https://mirror2.example.com/dists/stable/kernel.img",
	}) {
		t.Errorf("tc.URLs() = %v", urls)
	}

	bases := tc.BaseURLs()
	if !reflect.DeepEqual(bases, []string{
		"https://mirror1.example.com/",
		"https://mirror2.example.com/",
	}) {
		t.Errorf("tc.BaseURLs() = %v", bases)
	}
}

func TestTargetConfigCredentialsAndStallTimeoutOverride(t *testing.T) {
	t.Parallel()

	var c Config
	_, err := toml.Decode(`
dir = "/var/cache/dlfetch"
max_conns = 4
disable_stall_timeout = true

[targets.demo]
servers = ["https://mirror.example.com/"]
file_path = "demo.bin"
username = "mirroruser"
password = "s3cret"
`, &c)
	if err != nil {
		t.Fatal(err)
	}

	if !c.DisableStallTimeout {
		t.Error("c.DisableStallTimeout should be true")
	}

	tc, ok := c.Targets["demo"]
	if !ok {
		t.Fatal(`c.Targets["demo"] not found`)
	}
	if tc.Username != "mirroruser" || tc.Password != "s3cret" {
		t.Errorf("tc.Username/Password = %q/%q, want mirroruser/s3cret", tc.Username, tc.Password)
	}
}

func TestConfig_Check(t *testing.T) {
	t.Parallel()

	c1 := NewConfig()
	c1.Dir = "/tmp"
	if err := c1.Check(); err != nil {
		t.Errorf("expected no error, but got: %v", err)
	}

	c2 := NewConfig()
	if err := c2.Check(); err == nil {
		t.Error("expected an error for missing dir, but got none")
	}

	c3 := NewConfig()
	c3.Dir = "tmp"
	if err := c3.Check(); err == nil {
		t.Error("expected an error for relative dir, but got none")
	}

	c4 := NewConfig()
	c4.Dir = "/tmp"
	c4.MaxConns = 0
	if err := c4.Check(); err == nil {
		t.Error("expected an error for zero max_conns, but got none")
	}

	c5 := NewConfig()
	c5.Dir = "/tmp"
	c5.MaxConns = -1
	if err := c5.Check(); err == nil {
		t.Error("expected an error for negative max_conns, but got none")
	}

	invalidTargetIDs := []struct {
		id     string
		reason string
	}{
		{"../etc", "path traversal"},
		{"/etc/passwd", "absolute path"},
		{"MyTarget", "uppercase letters"},
		{"target.prod", "dots"},
		{"foo/bar", "forward slash"},
		{"test\\path", "backslash"},
		{"target name", "space"},
		{"", "empty string"},
	}

	for _, tc := range invalidTargetIDs {
		c := NewConfig()
		c.Dir = "/tmp"
		c.Targets = map[string]*TargetConfig{
			tc.id: {Servers: []tomlURL{}, FilePath: "x"},
		}

		if err := c.Check(); err == nil {
			t.Errorf("expected error for target ID %q (%s), but got none", tc.id, tc.reason)
		}
	}

	c6 := NewConfig()
	c6.Dir = "/tmp"
	c6.Targets = map[string]*TargetConfig{}
	if err := c6.Check(); err != nil {
		t.Errorf("expected no error for empty targets, but got: %v", err)
	}
}
