// Package configserver serves layered application properties over HTTP and
// announces changes on the refresh bus.
package configserver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultApplication is the name of the properties shared by every service.
const DefaultApplication = "application"

// DefaultProfile is used when a request names no profile.
const DefaultProfile = "default"

// Extensions are tried in order for every property source name.
var Extensions = []string{"yaml", "yml", "toml", "json"}

// PropertySource is one file's flattened properties.
type PropertySource struct {
	Name   string         `json:"name"`
	Source map[string]any `json:"source"`
}

// Environment is the answer to a config request. PropertySources are ordered
// most specific first.
type Environment struct {
	Name            string           `json:"name"`
	Profiles        []string         `json:"profiles"`
	PropertySources []PropertySource `json:"propertySources"`
}

// Backend resolves the environment of an application.
type Backend interface {
	Environment(application string, profiles []string) (Environment, error)
}

// FileBackend reads property files from a directory.
type FileBackend struct {
	dir string
}

// NewFileBackend serves the files in dir.
func NewFileBackend(dir string) (*FileBackend, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("config dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("config dir %s is not a directory", dir)
	}
	return &FileBackend{dir: dir}, nil
}

// Dir returns the served directory.
func (b *FileBackend) Dir() string { return b.dir }

// SourceNames lists the candidate file names for application and profiles,
// most specific first. Later profiles take precedence over earlier ones.
func SourceNames(application string, profiles []string) []string {
	var names []string
	for i := len(profiles) - 1; i >= 0; i-- {
		names = append(names, application+"-"+profiles[i])
	}
	names = append(names, application)
	if application != DefaultApplication {
		for i := len(profiles) - 1; i >= 0; i-- {
			names = append(names, DefaultApplication+"-"+profiles[i])
		}
		names = append(names, DefaultApplication)
	}
	return names
}

func (b *FileBackend) Environment(application string, profiles []string) (Environment, error) {
	env := Environment{Name: application, Profiles: profiles, PropertySources: []PropertySource{}}
	for _, name := range SourceNames(application, profiles) {
		path, ok := b.find(name)
		if !ok {
			continue
		}
		source, err := readSource(path)
		if err != nil {
			return Environment{}, err
		}
		env.PropertySources = append(env.PropertySources, PropertySource{
			Name:   "file:" + filepath.ToSlash(path),
			Source: source,
		})
	}
	return env, nil
}

func (b *FileBackend) find(name string) (string, bool) {
	for _, ext := range Extensions {
		path := filepath.Join(b.dir, name+"."+ext)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

func readSource(path string) (map[string]any, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	source := make(map[string]any)
	for _, key := range v.AllKeys() {
		source[key] = v.Get(key)
	}
	return source, nil
}

// ParseProfiles splits a comma separated profile list. An empty list yields
// the default profile.
func ParseProfiles(raw string) []string {
	var profiles []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			profiles = append(profiles, p)
		}
	}
	if len(profiles) == 0 {
		return []string{DefaultProfile}
	}
	return profiles
}
