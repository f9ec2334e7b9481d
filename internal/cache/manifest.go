package cache

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the fixed list of shell resources primed on install. Changing Resources
// requires a new Generation.
type Manifest struct {
	Generation string   `yaml:"generation"`
	Offline    string   `yaml:"offline"`
	Resources  []string `yaml:"resources"`
}

// DefaultManifest is the shell of the customer-facing application.
func DefaultManifest() Manifest {
	return Manifest{
		Generation: "food-order-v1",
		Offline:    "/offline.html",
		Resources: []string{
			"/",
			"/index.html",
			"/offline.html",
			"/manifest.json",
			"/css/styles.css",
			"/js/app.js",
			"/js/notifications.js",
			"/js/realtime.js",
			"/customer/menu.html",
			"/customer/cart.html",
			"/customer/order-tracking.html",
			"/icons/icon-192x192.png",
			"/icons/icon-512x512.png",
			"/icons/badge-72x72.png",
		},
	}
}

// LoadManifest reads a YAML manifest file.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (m Manifest) Validate() error {
	if m.Generation == "" {
		return errors.New("manifest: generation is required")
	}
	if len(m.Resources) == 0 {
		return errors.New("manifest: resources must not be empty")
	}
	return nil
}

// Paths returns the resources to prime, with the offline fallback included once.
func (m Manifest) Paths() []string {
	seen := make(map[string]struct{}, len(m.Resources)+1)
	out := make([]string, 0, len(m.Resources)+1)
	for _, p := range append(append([]string(nil), m.Resources...), m.Offline) {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
