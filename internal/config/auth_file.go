package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/jrsteele09/go-session-authn/authn"
	"github.com/jrsteele09/go-session-authn/realms"
	"gopkg.in/yaml.v3"
)

var ErrInvalidAuthConfig = errors.New("invalid authentication config")

// AuthFile is the on-disk layout of the authentication configuration.
type AuthFile struct {
	Realms         []*realms.Realm       `yaml:"realms"`
	Authenticators []authn.Authenticator `yaml:"authenticators"`
	Flows          []FlowSpec            `yaml:"flows"`
	Endpoint       EndpointSpec          `yaml:"endpoint"`
	Credentials    []EntityCredentials   `yaml:"credentials"`
}

type FlowSpec struct {
	Name         string           `yaml:"name"`
	Policy       authn.FlowPolicy `yaml:"policy"`
	FirstFactor  []string         `yaml:"firstFactor"`
	SecondFactor []string         `yaml:"secondFactor"`
}

type EndpointSpec struct {
	Name   string     `yaml:"name"`
	Realm  string     `yaml:"realm"`
	Flows  []string   `yaml:"flows"`
	StepUp StepUpSpec `yaml:"stepUp"`
}

type StepUpSpec struct {
	Enabled bool   `yaml:"enabled"`
	Policy  string `yaml:"policy"`
}

// EntityCredentials seeds the local credentials an entity holds, for development setups.
// Outdated names must also appear in Names.
type EntityCredentials struct {
	EntityID int64    `yaml:"entityId"`
	Names    []string `yaml:"names"`
	Outdated []string `yaml:"outdated"`
}

// Endpoint is a resolved endpoint: its flows are built from the configured authenticators.
type Endpoint struct {
	Name          string
	Realm         string
	Flows         []*authn.Flow
	StepUpEnabled bool
	StepUpPolicy  string
}

// AuthSetup is the validated authentication configuration.
type AuthSetup struct {
	Realms      []*realms.Realm
	Flows       map[string]*authn.Flow
	Endpoint    Endpoint
	Credentials []EntityCredentials
}

// LoadAuthFile reads and validates the YAML authentication file.
func LoadAuthFile(path string) (*AuthSetup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("[config.LoadAuthFile] %w", err)
	}
	setup, err := ParseAuthConfig(data)
	if err != nil {
		return nil, fmt.Errorf("[config.LoadAuthFile] %s: %w", path, err)
	}
	return setup, nil
}

// ParseAuthConfig decodes and validates an authentication configuration. Unknown keys are rejected.
func ParseAuthConfig(data []byte) (*AuthSetup, error) {
	var file AuthFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAuthConfig, err)
	}
	return file.resolve()
}

func (f *AuthFile) resolve() (*AuthSetup, error) {
	realmNames := make(map[string]struct{}, len(f.Realms))
	for _, realm := range f.Realms {
		if err := realm.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAuthConfig, err)
		}
		if _, dup := realmNames[realm.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate realm %q", ErrInvalidAuthConfig, realm.Name)
		}
		realmNames[realm.Name] = struct{}{}
	}

	authenticators := make(map[string]authn.AuthenticatorRef, len(f.Authenticators))
	for _, a := range f.Authenticators {
		if a.AuthenticatorID == "" {
			return nil, fmt.Errorf("%w: authenticator without id", ErrInvalidAuthConfig)
		}
		if strings.Contains(a.AuthenticatorID, ".") {
			return nil, fmt.Errorf("%w: authenticator id %q must not contain '.'", ErrInvalidAuthConfig, a.AuthenticatorID)
		}
		if _, dup := authenticators[a.AuthenticatorID]; dup {
			return nil, fmt.Errorf("%w: duplicate authenticator %q", ErrInvalidAuthConfig, a.AuthenticatorID)
		}
		authenticators[a.AuthenticatorID] = a
	}

	lookup := func(flow string, ids []string) ([]authn.AuthenticatorRef, error) {
		refs := make([]authn.AuthenticatorRef, 0, len(ids))
		for _, id := range ids {
			a, ok := authenticators[id]
			if !ok {
				return nil, fmt.Errorf("%w: flow %q references unknown authenticator %q", ErrInvalidAuthConfig, flow, id)
			}
			refs = append(refs, a)
		}
		return refs, nil
	}

	flows := make(map[string]*authn.Flow, len(f.Flows))
	for _, spec := range f.Flows {
		if _, dup := flows[spec.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate flow %q", ErrInvalidAuthConfig, spec.Name)
		}
		first, err := lookup(spec.Name, spec.FirstFactor)
		if err != nil {
			return nil, err
		}
		second, err := lookup(spec.Name, spec.SecondFactor)
		if err != nil {
			return nil, err
		}
		flow, err := authn.NewFlow(spec.Name, spec.Policy, first, second)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAuthConfig, err)
		}
		flows[spec.Name] = flow
	}

	for _, entity := range f.Credentials {
		for _, name := range entity.Outdated {
			if !slices.Contains(entity.Names, name) {
				return nil, fmt.Errorf("%w: entity %d marks unset credential %q outdated", ErrInvalidAuthConfig, entity.EntityID, name)
			}
		}
	}

	endpoint, err := f.Endpoint.resolve(flows, realmNames)
	if err != nil {
		return nil, err
	}

	return &AuthSetup{
		Realms:      f.Realms,
		Flows:       flows,
		Endpoint:    endpoint,
		Credentials: f.Credentials,
	}, nil
}

func (e EndpointSpec) resolve(flows map[string]*authn.Flow, realmNames map[string]struct{}) (Endpoint, error) {
	if e.Realm != "" {
		if _, ok := realmNames[e.Realm]; !ok {
			return Endpoint{}, fmt.Errorf("%w: endpoint %q uses unknown realm %q", ErrInvalidAuthConfig, e.Name, e.Realm)
		}
	}
	if e.StepUp.Enabled && strings.TrimSpace(e.StepUp.Policy) == "" {
		return Endpoint{}, fmt.Errorf("%w: endpoint %q enables step-up without a policy", ErrInvalidAuthConfig, e.Name)
	}

	endpoint := Endpoint{
		Name:          e.Name,
		Realm:         e.Realm,
		StepUpEnabled: e.StepUp.Enabled,
		StepUpPolicy:  e.StepUp.Policy,
	}
	for _, name := range e.Flows {
		flow, ok := flows[name]
		if !ok {
			return Endpoint{}, fmt.Errorf("%w: endpoint %q uses unknown flow %q", ErrInvalidAuthConfig, e.Name, name)
		}
		endpoint.Flows = append(endpoint.Flows, flow)
	}
	return endpoint, nil
}
