package realms

import (
	"sort"
	"sync"
)

var _ Repo = (*InMemoryRepo)(nil)

type InMemoryRepo struct {
	realms map[string]*Realm
	lock   sync.RWMutex
}

func NewInMemoryRepo(initial ...*Realm) (*InMemoryRepo, error) {
	r := &InMemoryRepo{
		realms: make(map[string]*Realm),
	}
	for _, realm := range initial {
		if err := r.Upsert(realm); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *InMemoryRepo) Upsert(realm *Realm) error {
	if err := realm.Validate(); err != nil {
		return err
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	stored := *realm
	r.realms[realm.Name] = &stored
	return nil
}

func (r *InMemoryRepo) Delete(name string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.realms, name)
	return nil
}

func (r *InMemoryRepo) Get(name string) (*Realm, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	realm, ok := r.realms[name]
	if !ok {
		return nil, ErrRealmNotFound
	}
	copied := *realm
	return &copied, nil
}

func (r *InMemoryRepo) List() ([]*Realm, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	list := make([]*Realm, 0, len(r.realms))
	for _, realm := range r.realms {
		copied := *realm
		list = append(list, &copied)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list, nil
}
