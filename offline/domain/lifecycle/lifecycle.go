package lifecycle

import (
	"time"

	"github.com/AzielCF/az-offline/offline/domain/cache"
)

// State of the install/activate machine.
type State string

const (
	StateIdle       State = "idle"
	StateInstalling State = "installing"
	StateWaiting    State = "waiting"
	StateActivating State = "activating"
	StateServing    State = "serving"
)

// StoreSet names the stores that are current for one version.
type StoreSet struct {
	Version int    `json:"version"`
	Static  string `json:"static"`
	Dynamic string `json:"dynamic"`
}

// StoresFor returns the store identifiers of a version.
func StoresFor(version int) StoreSet {
	return StoreSet{
		Version: version,
		Static:  cache.StoreName(cache.KindStatic, version),
		Dynamic: cache.StoreName(cache.KindDynamic, version),
	}
}

// Keeps reports whether name must survive activation for this set.
func (s StoreSet) Keeps(name string) bool {
	return name == s.Static || name == s.Dynamic || name == cache.MetaStore
}

// ActiveRecord is persisted in the meta store so a restart resumes serving.
type ActiveRecord struct {
	Version     int       `json:"version"`
	ActivatedAt time.Time `json:"activated_at"`
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State          State     `json:"state"`
	Current        *StoreSet `json:"current,omitempty"`
	Pending        *StoreSet `json:"pending,omitempty"`
	LastInstallErr string    `json:"last_install_error,omitempty"`
	ActivatedAt    time.Time `json:"activated_at,omitempty"`
}

// ActiveRecordKey is where the active version is stored inside the meta store.
var ActiveRecordKey = cache.LogicalKey("lifecycle/active")
