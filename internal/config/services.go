package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/hamed0406/servicewatch/internal/domain"
)

// ErrDuplicateService is returned by Registry.Add for a URI already present.
var ErrDuplicateService = errors.New("service already registered")

// ServiceConfig is one monitored service as declared in the services file.
// Zero values mean "not set"; the type defaults fill them in.
type ServiceConfig struct {
	URI      string `yaml:"uri" json:"uri"`
	Interval int    `yaml:"interval,omitempty" json:"interval,omitempty"` // seconds
	Port     int    `yaml:"port,omitempty" json:"port,omitempty"`
	Timeout  int    `yaml:"timeout,omitempty" json:"timeout,omitempty"` // seconds

	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	Passive  *bool  `yaml:"passive,omitempty" json:"passive,omitempty"`

	Identity string `yaml:"identity,omitempty" json:"identity,omitempty"`
	Banner   string `yaml:"banner,omitempty" json:"banner,omitempty"`
	MailFrom string `yaml:"mail_from,omitempty" json:"mail_from,omitempty"`
	MailTo   string `yaml:"mail_to,omitempty" json:"mail_to,omitempty"`

	Method  string `yaml:"method,omitempty" json:"method,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	Binary string `yaml:"binary,omitempty" json:"binary,omitempty"`
	Count  int    `yaml:"count,omitempty" json:"count,omitempty"`
}

// TypeDefaults apply to every service of one protocol type.
type TypeDefaults struct {
	Interval   int    `yaml:"interval,omitempty"`
	RemotePort int    `yaml:"remote_port,omitempty"`
	Timeout    int    `yaml:"timeout,omitempty"`
	Method     string `yaml:"method,omitempty"`
	Binary     string `yaml:"binary,omitempty"`
	Count      int    `yaml:"count,omitempty"`
	Identity   string `yaml:"identity,omitempty"`
	Passive    *bool  `yaml:"passive,omitempty"`
}

// DefaultRelayPath is where pingrelay answers and where ping monitors connect
// unless configured otherwise.
const DefaultRelayPath = "/relay"

// RelayConfig locates the local ping relay agent.
type RelayConfig struct {
	Host      string `yaml:"host,omitempty"`
	Port      int    `yaml:"port,omitempty"`
	Path      string `yaml:"path,omitempty"`
	Reconnect *bool  `yaml:"reconnect,omitempty"`
}

// ReconnectEnabled reports whether a lost relay link should defer pending
// requests rather than fail them. Defaults to true.
func (r RelayConfig) ReconnectEnabled() bool {
	return r.Reconnect == nil || *r.Reconnect
}

type ServiceGroup struct {
	Defaults TypeDefaults    `yaml:"defaults"`
	Entries  []ServiceConfig `yaml:"entries"`
}

// File is the on-disk shape of the services file.
type File struct {
	UserAgent string                  `yaml:"user_agent"`
	Relay     RelayConfig             `yaml:"relay"`
	Services  map[string]ServiceGroup `yaml:"services"`
}

// Registry resolves per-service settings and per-type defaults. It is safe
// for concurrent use; entries may be added and removed at runtime.
type Registry struct {
	mu        sync.RWMutex
	userAgent string
	relay     RelayConfig
	defaults  map[domain.ServiceType]TypeDefaults
	services  map[string]ServiceConfig
}

const defaultUserAgent = "servicewatch/1.0"

// LoadServices reads and validates a services file.
func LoadServices(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read services file: %w", err)
	}
	return ParseServices(data)
}

// ParseServices builds a Registry from YAML. Every problem found is reported,
// not just the first.
func ParseServices(data []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse services file: %v", domain.ErrConfiguration, err)
	}
	return NewRegistry(f)
}

func NewRegistry(f File) (*Registry, error) {
	r := &Registry{
		userAgent: f.UserAgent,
		relay:     f.Relay,
		defaults:  make(map[domain.ServiceType]TypeDefaults),
		services:  make(map[string]ServiceConfig),
	}
	if r.userAgent == "" {
		r.userAgent = defaultUserAgent
	}
	if r.relay.Host == "" {
		r.relay.Host = "127.0.0.1"
	}
	if r.relay.Path == "" {
		r.relay.Path = DefaultRelayPath
	}

	var errs error
	for name, group := range f.Services {
		t := domain.ServiceType(name)
		if !t.Valid() {
			errs = multierr.Append(errs, fmt.Errorf("%w: %q", domain.ErrUnsupportedProtocolType, name))
			continue
		}
		r.defaults[t] = group.Defaults
		for _, sc := range group.Entries {
			if err := r.addLocked(sc, t); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}
	if errs != nil {
		return nil, errs
	}
	return r, nil
}

// Add registers a service at runtime.
func (r *Registry) Add(sc ServiceConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(sc, "")
}

func (r *Registry) addLocked(sc ServiceConfig, group domain.ServiceType) error {
	sc.URI = strings.TrimSpace(sc.URI)
	uri, err := domain.ParseServiceURI(sc.URI)
	if err != nil {
		return err
	}
	if !uri.Type.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedProtocolType, uri.Type)
	}
	if group != "" && uri.Type != group {
		return fmt.Errorf("%w: %s listed under services.%s", domain.ErrConfiguration, sc.URI, group)
	}
	if sc.Interval < 0 || sc.Port < 0 || sc.Timeout < 0 || sc.Count < 0 {
		return fmt.Errorf("%w: %s: negative value", domain.ErrConfiguration, sc.URI)
	}
	if _, ok := r.services[sc.URI]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateService, sc.URI)
	}
	r.services[sc.URI] = sc
	return nil
}

// Remove drops a service; it reports whether the URI was present.
func (r *Registry) Remove(uri string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[uri]; !ok {
		return false
	}
	delete(r.services, uri)
	return true
}

func (r *Registry) Service(uri domain.ServiceURI) (ServiceConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sc, ok := r.services[uri.Raw]
	return sc, ok
}

func (r *Registry) Defaults(t domain.ServiceType) (TypeDefaults, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defaults[t]
	return d, ok
}

// SetDefaults replaces the defaults for one type.
func (r *Registry) SetDefaults(t domain.ServiceType, d TypeDefaults) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[t] = d
}

func (r *Registry) UserAgent() string { return r.userAgent }

func (r *Registry) Relay() RelayConfig { return r.relay }

// URIs returns every registered service URI in sorted order.
func (r *Registry) URIs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.services))
	for u := range r.services {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
