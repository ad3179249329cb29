package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
)

// Service names, one YAML file each inside a context.
const (
	ServiceServer = "server"
	ServiceClient = "client"
)

// Defaults used when no context or file provides a value.
const (
	DefaultListen   = "localhost:7880"
	DefaultPath     = "/dev"
	DefaultURL      = "ws://localhost:7880/dev"
	DefaultTimeout  = 5 * time.Second
	DefaultDevices  = 8
	DefaultCapacity = 4096
)

// ServerConfig is server.yaml.
type ServerConfig struct {
	Listen   string `yaml:"listen,omitempty"`
	Path     string `yaml:"path,omitempty"`
	Devices  int    `yaml:"devices,omitempty"`
	Capacity int    `yaml:"capacity,omitempty"`

	// Socket is an optional unix socket path served alongside Listen.
	// Only its clients may ask for SIGIO delivery.
	Socket string `yaml:"socket,omitempty"`
}

// ClientConfig is client.yaml.
type ClientConfig struct {
	URL string `yaml:"url,omitempty"`

	// Socket, when set, is dialed instead of the URL's host.
	Socket string `yaml:"socket,omitempty"`

	// Timeout bounds connecting, in time.ParseDuration syntax.
	Timeout string `yaml:"timeout,omitempty"`
}

// DialTimeout returns the parsed timeout, or DefaultTimeout when unset.
func (c *ClientConfig) DialTimeout() (time.Duration, error) {
	if c.Timeout == "" {
		return DefaultTimeout, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("client timeout %q: %w", c.Timeout, err)
	}
	return d, nil
}

// LoadServer reads server.yaml from contextDir and fills in defaults. An
// empty contextDir or a missing file yields the defaults.
func LoadServer(contextDir string) (*ServerConfig, error) {
	cfg, err := loadOptional[ServerConfig](contextDir, ServiceServer)
	if err != nil {
		return nil, err
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.Devices <= 0 {
		cfg.Devices = DefaultDevices
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	return cfg, nil
}

// LoadClient reads client.yaml from contextDir and fills in defaults.
func LoadClient(contextDir string) (*ClientConfig, error) {
	cfg, err := loadOptional[ClientConfig](contextDir, ServiceClient)
	if err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if _, err := cfg.DialTimeout(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadOptional[T any](contextDir, service string) (*T, error) {
	if contextDir == "" {
		return new(T), nil
	}
	v, err := LoadService[T](contextDir, service)
	if errors.Is(err, fs.ErrNotExist) {
		return new(T), nil
	}
	return v, err
}

// ServicePath returns the YAML file path for a service within a context.
func (c *Config) ServicePath(context, service string) string {
	return filepath.Join(c.ContextDir(context), service+".yaml")
}

// LoadService loads a service configuration from the given context directory.
// The service name maps to a YAML file: "{contextDir}/{service}.yaml".
// A missing file is reported as fs.ErrNotExist.
func LoadService[T any](contextDir, service string) (*T, error) {
	path := filepath.Join(contextDir, service+".yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("service config %q not found in context (expected: %s): %w", service, path, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var v T
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &v, nil
}

// SaveService writes a service configuration to the given context directory.
func SaveService[T any](contextDir, service string, v *T) error {
	if err := os.MkdirAll(contextDir, 0755); err != nil {
		return fmt.Errorf("create context dir: %w", err)
	}

	path := filepath.Join(contextDir, service+".yaml")

	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s config: %w", service, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ListServices returns the service names configured in a context directory.
func ListServices(contextDir string) ([]string, error) {
	entries, err := os.ReadDir(contextDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list services: %w", err)
	}

	var services []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if ext == ".yaml" || ext == ".yml" {
			services = append(services, name[:len(name)-len(ext)])
		}
	}
	return services, nil
}
