package terminal

import (
	"fmt"
	"sort"
	"sync"
)

// DialerFactory builds a Dialer for one protocol driver.
type DialerFactory func() Dialer

var (
	driversMu sync.Mutex
	drivers   = make(map[string]DialerFactory)
)

// Register makes a protocol driver available under a name. Vendor SDK
// adapters call it from their init, the binary selects one by config.
func Register(name string, factory DialerFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if factory == nil {
		panic("terminal: nil driver factory for " + name)
	}

	if _, dup := drivers[name]; dup {
		panic("terminal: driver registered twice: " + name)
	}

	drivers[name] = factory
}

// Open returns the Dialer registered under name.
func Open(name string) (Dialer, error) {
	driversMu.Lock()
	factory, ok := drivers[name]
	driversMu.Unlock()

	if !ok {
		return nil, fmt.Errorf("terminal: unknown driver %q, registered: %v", name, Drivers())
	}

	return factory(), nil
}

// Drivers lists registered driver names, sorted.
func Drivers() []string {
	driversMu.Lock()
	defer driversMu.Unlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
