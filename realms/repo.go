package realms

type Repo interface {
	Upsert(realm *Realm) error
	Delete(name string) error
	Get(name string) (*Realm, error)
	List() ([]*Realm, error)
}
