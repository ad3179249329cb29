package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvDir, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dir != dir {
		t.Errorf("Dir = %q, want %q", cfg.Dir, dir)
	}
	if cfg.CurrentContext != "" {
		t.Errorf("CurrentContext = %q, want empty", cfg.CurrentContext)
	}
}

func TestContexts(t *testing.T) {
	cfg, _ := LoadFrom(t.TempDir())

	if err := cfg.AddContext("local"); err != nil {
		t.Fatalf("AddContext: %v", err)
	}
	if err := cfg.AddContext("local"); err == nil {
		t.Error("AddContext duplicate should fail")
	}
	if err := cfg.AddContext("lab"); err != nil {
		t.Fatal(err)
	}

	names, err := cfg.ListContexts()
	if err != nil {
		t.Fatal(err)
	}
	slices.Sort(names)
	if !slices.Equal(names, []string{"lab", "local"}) {
		t.Errorf("ListContexts = %v", names)
	}

	if err := cfg.UseContext("local"); err != nil {
		t.Fatalf("UseContext: %v", err)
	}
	reloaded, _ := LoadFrom(cfg.Dir)
	if reloaded.CurrentContext != "local" {
		t.Errorf("CurrentContext after reload = %q, want local", reloaded.CurrentContext)
	}

	if err := cfg.DeleteContext("local"); err != nil {
		t.Fatalf("DeleteContext: %v", err)
	}
	if cfg.CurrentContext != "" {
		t.Errorf("CurrentContext after delete = %q, want empty", cfg.CurrentContext)
	}
	if err := cfg.UseContext("local"); err == nil {
		t.Error("UseContext on deleted context should fail")
	}
}

func TestValidateContextName(t *testing.T) {
	for _, name := range []string{"", "a/b", `a\b`, ".hidden"} {
		if err := ValidateContextName(name); err == nil {
			t.Errorf("ValidateContextName(%q) should fail", name)
		}
	}
	if err := ValidateContextName("dev-1"); err != nil {
		t.Errorf("ValidateContextName(dev-1): %v", err)
	}
}

func TestResolveContext(t *testing.T) {
	cfg, _ := LoadFrom(t.TempDir())

	dir, err := cfg.ResolveContext("")
	if err != nil || dir != "" {
		t.Errorf("ResolveContext(\"\") with no current = %q, %v", dir, err)
	}
	if _, err := cfg.ResolveContext("nope"); err == nil {
		t.Error("ResolveContext(nope) should fail")
	}

	cfg.AddContext("dev")
	cfg.UseContext("dev")
	dir, err = cfg.ResolveContext("")
	if err != nil || dir != cfg.ContextDir("dev") {
		t.Errorf("ResolveContext(\"\") = %q, %v", dir, err)
	}
}

func TestLoadServerDefaults(t *testing.T) {
	for _, dir := range []string{"", t.TempDir()} {
		s, err := LoadServer(dir)
		if err != nil {
			t.Fatalf("LoadServer(%q): %v", dir, err)
		}
		want := ServerConfig{Listen: DefaultListen, Path: DefaultPath, Devices: DefaultDevices, Capacity: DefaultCapacity}
		if *s != want {
			t.Errorf("LoadServer(%q) = %+v, want %+v", dir, *s, want)
		}
	}
}

func TestLoadServerFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "listen: \"127.0.0.1:9000\"\ndevices: 2\ncapacity: 128\n"
	if err := os.WriteFile(filepath.Join(dir, "server.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadServer(dir)
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if s.Listen != "127.0.0.1:9000" || s.Devices != 2 || s.Capacity != 128 || s.Path != DefaultPath {
		t.Errorf("LoadServer = %+v", *s)
	}
}

func TestLoadClient(t *testing.T) {
	dir := t.TempDir()
	if err := SaveService(dir, ServiceClient, &ClientConfig{URL: "ws://fifo:1/dev", Timeout: "250ms"}); err != nil {
		t.Fatalf("SaveService: %v", err)
	}

	c, err := LoadClient(dir)
	if err != nil {
		t.Fatalf("LoadClient: %v", err)
	}
	if c.URL != "ws://fifo:1/dev" {
		t.Errorf("URL = %q", c.URL)
	}
	if d, _ := c.DialTimeout(); d != 250*time.Millisecond {
		t.Errorf("DialTimeout = %v, want 250ms", d)
	}

	if err := SaveService(dir, ServiceClient, &ClientConfig{Timeout: "soon"}); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadClient(dir); err == nil {
		t.Error("LoadClient with bad timeout should fail")
	}
}

func TestListServices(t *testing.T) {
	dir := t.TempDir()
	SaveService(dir, ServiceServer, &ServerConfig{Devices: 1})
	SaveService(dir, ServiceClient, &ClientConfig{URL: "ws://x"})
	os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0644)

	got, err := ListServices(dir)
	if err != nil {
		t.Fatal(err)
	}
	slices.Sort(got)
	if !slices.Equal(got, []string{"client", "server"}) {
		t.Errorf("ListServices = %v", got)
	}
}
