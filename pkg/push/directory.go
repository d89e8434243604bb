package push

import "sync"

// Directory holds the applications a Processor can dispatch to.
type Directory struct {
	mu   sync.RWMutex
	apps map[string]*Application
}

// NewDirectory creates a directory holding apps.
func NewDirectory(apps ...*Application) *Directory {
	d := &Directory{apps: make(map[string]*Application, len(apps))}
	for _, app := range apps {
		d.apps[app.ID] = app
	}
	return d
}

// Register adds app, replacing any application with the same ID.
func (d *Directory) Register(app *Application) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.apps[app.ID] = app
}

// Remove forgets the application with the given ID.
func (d *Directory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.apps, id)
}

// Lookup returns the application with the given ID, or nil.
func (d *Directory) Lookup(id string) *Application {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.apps[id]
}
