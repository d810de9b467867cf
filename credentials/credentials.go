package credentials

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jrsteele09/go-session-authn/authn"
)

// State of a local credential held by an entity.
type State string

const (
	StateCorrect  State = "correct"  // Credential is set and usable
	StateOutdated State = "outdated" // Credential is usable but must be changed on next login
)

var ErrCredentialNotSet = errors.New("credential not set")

// Credential records that an entity holds a local credential. Secrets are kept by the
// verifying authenticator, never here.
type Credential struct {
	Name    string    `json:"name" yaml:"name"`
	State   State     `json:"state" yaml:"state"`
	Updated time.Time `json:"updated" yaml:"updated"`
}

var _ authn.Processor = (*Registry)(nil)

// Registry is an in-memory authn.Processor tracking which local credentials each entity holds.
type Registry struct {
	entities map[int64]map[string]Credential // entityID -> credential name -> credential
	lock     sync.RWMutex
	nowTime  func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[int64]map[string]Credential),
		nowTime:  time.Now,
	}
}

// Set records the credential as correctly set for the entity.
func (r *Registry) Set(entityID int64, name string) {
	r.put(entityID, name, StateCorrect)
}

// MarkOutdated flags a credential the entity must change; it stays usable.
func (r *Registry) MarkOutdated(entityID int64, name string) error {
	r.lock.RLock()
	_, ok := r.entities[entityID][name]
	r.lock.RUnlock()
	if !ok {
		return ErrCredentialNotSet
	}
	r.put(entityID, name, StateOutdated)
	return nil
}

// Remove drops the credential from the entity.
func (r *Registry) Remove(entityID int64, name string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	creds := r.entities[entityID]
	delete(creds, name)
	if len(creds) == 0 {
		delete(r.entities, entityID)
	}
}

// Credentials lists the entity's credentials ordered by name.
func (r *Registry) Credentials(entityID int64) []Credential {
	r.lock.RLock()
	defer r.lock.RUnlock()

	list := make([]Credential, 0, len(r.entities[entityID]))
	for _, c := range r.entities[entityID] {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

// HasCredential implements authn.Processor. Authenticators without a local credential
// (remote ones) are always usable from the credential point of view.
func (r *Registry) HasCredential(_ context.Context, entityID int64, a authn.AuthenticatorRef) (bool, error) {
	name := a.LocalCredentialName()
	if name == "" {
		return true, nil
	}
	r.lock.RLock()
	defer r.lock.RUnlock()
	_, ok := r.entities[entityID][name]
	return ok, nil
}

// ResolveValidAuthenticator implements authn.Processor: the first second factor
// authenticator of the flow the entity holds a credential for.
func (r *Registry) ResolveValidAuthenticator(ctx context.Context, flow *authn.Flow, entityID int64) (authn.AuthenticatorRef, error) {
	for _, a := range flow.SecondFactor {
		ok, err := r.HasCredential(ctx, entityID, a)
		if err != nil {
			return nil, err
		}
		if ok {
			return a, nil
		}
	}
	return nil, nil
}

func (r *Registry) put(entityID int64, name string, state State) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.entities[entityID]; !ok {
		r.entities[entityID] = make(map[string]Credential)
	}
	r.entities[entityID][name] = Credential{Name: name, State: state, Updated: r.nowTime()}
}
