// Package config contains methods and structs to read and write the
// configuration of a repository.
//
// The config file is INI formatted:
//
// [user]
//     name = John Doe
//     email = john@domain.tld
// [remote "origin"]
//     url = git://host/path
//
// Only the keys the core consults are exposed; everything else is
// kept as-is and survives a load/save round-trip
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"
	ini "gopkg.in/ini.v1"
)

// Sections and keys consulted by the core
const (
	sectionUser   = "user"
	sectionRemote = "remote"
	sectionCore   = "core"

	keyUserName  = "name"
	keyUserEmail = "email"
	keyRemoteURL = "url"

	KeyCoreFormatVersion = "repositoryformatversion"
	KeyCoreBare          = "bare"
	KeyCoreFileMode      = "filemode"
)

var (
	// ErrConfigInvalid is an error thrown when the config file
	// cannot be parsed
	ErrConfigInvalid = errors.New("config file is invalid")

	// ErrNoIdentity is an error thrown when an operation needs
	// user.name and user.email but the config has none
	ErrNoIdentity = errors.New("user identity not set")

	// ErrRemoteNotFound is an error thrown when acting on a remote
	// that doesn't exist
	ErrRemoteNotFound = errors.New("remote not found")
)

// Remote represents a configured remote
type Remote struct {
	Name string
	URL  string
}

// Config represents the configuration of a repository
type Config struct {
	fs   afero.Fs
	path string
	file *ini.File
}

// Load reads the config file at the given path.
// A missing file results in an empty config
func Load(fs afero.Fs, path string) (*Config, error) {
	cfg := &Config{
		fs:   fs,
		path: path,
	}

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, xerrors.Errorf("could not check for config file at %s: %w", path, err)
	}
	if !exists {
		cfg.file = ini.Empty()
		return cfg, nil
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, xerrors.Errorf("could not read config file at %s: %w", path, err)
	}
	cfg.file, err = ini.Load(data)
	if err != nil {
		return nil, xerrors.Errorf("could not parse config file at %s (%s): %w", path, err.Error(), ErrConfigInvalid)
	}
	return cfg, nil
}

// Save persists the config to disk
func (cfg *Config) Save() error {
	var out strings.Builder
	if _, err := cfg.file.WriteTo(&out); err != nil {
		return xerrors.Errorf("could not serialize the config: %w", err)
	}
	if err := afero.WriteFile(cfg.fs, cfg.path, []byte(out.String()), 0o644); err != nil {
		return xerrors.Errorf("could not persist the config to %s: %w", cfg.path, err)
	}
	return nil
}

// Ident returns the identity used to author commits.
// ErrNoIdentity is returned if user.name or user.email is missing
func (cfg *Config) Ident() (name, email string, err error) {
	section := cfg.file.Section(sectionUser)
	name = section.Key(keyUserName).String()
	email = section.Key(keyUserEmail).String()
	if name == "" || email == "" {
		return "", "", ErrNoIdentity
	}
	return name, email, nil
}

// SetIdent sets the identity used to author commits
func (cfg *Config) SetIdent(name, email string) {
	section := cfg.file.Section(sectionUser)
	section.Key(keyUserName).SetValue(name)
	section.Key(keyUserEmail).SetValue(email)
}

// remoteSectionName returns the name of the ini section of a remote
func remoteSectionName(name string) string {
	return fmt.Sprintf(`%s "%s"`, sectionRemote, name)
}

// Remote returns the remote with the given name.
// ErrRemoteNotFound is returned if the remote has no url
func (cfg *Config) Remote(name string) (*Remote, error) {
	section, err := cfg.file.GetSection(remoteSectionName(name))
	if err != nil {
		return nil, xerrors.Errorf("remote %s: %w", name, ErrRemoteNotFound)
	}
	url := section.Key(keyRemoteURL).String()
	if url == "" {
		return nil, xerrors.Errorf("remote %s has no url: %w", name, ErrRemoteNotFound)
	}
	return &Remote{
		Name: name,
		URL:  url,
	}, nil
}

// SetRemote adds or updates a remote
func (cfg *Config) SetRemote(name, url string) {
	cfg.file.Section(remoteSectionName(name)).Key(keyRemoteURL).SetValue(url)
}

// Remotes returns all the configured remotes, sorted by name
func (cfg *Config) Remotes() []*Remote {
	out := []*Remote{}
	for _, section := range cfg.file.Sections() {
		if !strings.HasPrefix(section.Name(), sectionRemote+" ") {
			continue
		}
		name := strings.Trim(strings.TrimPrefix(section.Name(), sectionRemote+" "), `"`)
		url := section.Key(keyRemoteURL).String()
		if url == "" {
			continue
		}
		out = append(out, &Remote{
			Name: name,
			URL:  url,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetCoreValue sets a key of the [core] section.
// It's used when initializing a repository
func (cfg *Config) SetCoreValue(key, value string) {
	cfg.file.Section(sectionCore).Key(key).SetValue(value)
}

// CoreValue returns a key of the [core] section
func (cfg *Config) CoreValue(key string) string {
	return cfg.file.Section(sectionCore).Key(key).String()
}
