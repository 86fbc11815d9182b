package status

import "fleetsync/internal/models"

// Facade is the read-only view of sync status handed to outer layers.
type Facade struct {
	store *Store
}

func NewFacade(store *Store) *Facade {
	return &Facade{store: store}
}

func (f *Facade) Snapshot() models.SyncStatus {
	return f.store.Snapshot()
}

func (f *Facade) Subscribe(fn func(models.SyncStatus)) func() {
	return f.store.Subscribe(fn)
}
