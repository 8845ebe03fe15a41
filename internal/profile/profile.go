// Package profile holds the locally owned user profile and the pure helpers
// used to rank remote profiles for display.
package profile

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat" cbor:"lat"`
	Lon float64 `json:"lon" yaml:"lon" cbor:"lon"`
}

// Profile is what a participant announces about themselves once a direct
// channel is open. The remote copy held by a session is the last value
// received and may be stale.
type Profile struct {
	Name       string      `json:"name" yaml:"name" cbor:"name"`
	Preference string      `json:"preference,omitempty" yaml:"preference" cbor:"preference,omitempty"`
	Bio        string      `json:"bio,omitempty" yaml:"bio" cbor:"bio,omitempty"`
	Contact    string      `json:"contact,omitempty" yaml:"contact" cbor:"contact,omitempty"`
	Image      []byte      `json:"image,omitempty" yaml:"-" cbor:"image,omitempty"`
	Location   *Coordinate `json:"location,omitempty" yaml:"location" cbor:"location,omitempty"`
}

// Clone returns a deep copy so callers can hand profiles across goroutines
// without sharing the image buffer or coordinate.
func (p Profile) Clone() Profile {
	out := p
	if p.Image != nil {
		out.Image = append([]byte(nil), p.Image...)
	}
	if p.Location != nil {
		loc := *p.Location
		out.Location = &loc
	}
	return out
}

type fileProfile struct {
	Name       string      `yaml:"name"`
	Preference string      `yaml:"preference"`
	Bio        string      `yaml:"bio"`
	Contact    string      `yaml:"contact"`
	Image      string      `yaml:"image"`
	Location   *Coordinate `yaml:"location"`
}

// Load reads a YAML profile file. A relative image path is resolved against
// the directory containing the profile file and embedded as raw bytes.
func Load(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	return parse(raw, filepath.Dir(path))
}

func parse(raw []byte, baseDir string) (Profile, error) {
	var fp fileProfile
	if err := yaml.Unmarshal(raw, &fp); err != nil {
		return Profile{}, fmt.Errorf("parse profile: %w", err)
	}
	if fp.Location != nil {
		if err := fp.Location.Validate(); err != nil {
			return Profile{}, err
		}
	}

	p := Profile{
		Name:       fp.Name,
		Preference: fp.Preference,
		Bio:        fp.Bio,
		Contact:    fp.Contact,
		Location:   fp.Location,
	}
	if fp.Image != "" {
		imgPath := fp.Image
		if !filepath.IsAbs(imgPath) {
			imgPath = filepath.Join(baseDir, imgPath)
		}
		img, err := os.ReadFile(imgPath)
		if err != nil {
			return Profile{}, fmt.Errorf("read profile image: %w", err)
		}
		p.Image = img
	}
	return p, nil
}

// Validate rejects coordinates outside WGS84 bounds, NaN included.
func (c Coordinate) Validate() error {
	if !(c.Lat >= -90 && c.Lat <= 90) {
		return fmt.Errorf("invalid latitude %v (must be within [-90, 90])", c.Lat)
	}
	if !(c.Lon >= -180 && c.Lon <= 180) {
		return fmt.Errorf("invalid longitude %v (must be within [-180, 180])", c.Lon)
	}
	return nil
}
