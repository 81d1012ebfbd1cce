package netsdk

import (
	"sort"
	"sync"

	"github.com/LdDl/go-netsdk/configuration"
)

// deviceState is configured device plus its current session
type deviceState struct {
	cfg     configuration.DeviceConfiguration
	loginID LoginID
	info    DeviceInfo
}

// devicesStorage Map wrapper for map[string]*deviceState with mutex for concurrent usage
type devicesStorage struct {
	sync.RWMutex
	devices map[string]*deviceState
	// Serializes login and logout of the same device
	loginLocks map[string]*sync.Mutex
}

func newDevicesStorage() devicesStorage {
	return devicesStorage{
		devices:    make(map[string]*deviceState),
		loginLocks: make(map[string]*sync.Mutex),
	}
}

func (ds *devicesStorage) add(cfg configuration.DeviceConfiguration) {
	ds.Lock()
	ds.devices[cfg.ID] = &deviceState{cfg: cfg}
	ds.loginLocks[cfg.ID] = &sync.Mutex{}
	ds.Unlock()
}

// lockLogin takes device's login lock. Returned function releases it
func (ds *devicesStorage) lockLogin(id string) (func(), bool) {
	ds.RLock()
	mu, ok := ds.loginLocks[id]
	ds.RUnlock()
	if !ok {
		return nil, false
	}
	mu.Lock()
	return mu.Unlock, true
}

// get returns copy of the device state
func (ds *devicesStorage) get(id string) (deviceState, bool) {
	ds.RLock()
	defer ds.RUnlock()
	dev, ok := ds.devices[id]
	if !ok {
		return deviceState{}, false
	}
	return *dev, true
}

func (ds *devicesStorage) setLogin(id string, loginID LoginID, info DeviceInfo) {
	ds.Lock()
	defer ds.Unlock()
	dev, ok := ds.devices[id]
	if !ok {
		return
	}
	dev.loginID = loginID
	dev.info = info
}

// ids returns sorted identifiers of the devices
func (ds *devicesStorage) ids() []string {
	ds.RLock()
	keys := make([]string, 0, len(ds.devices))
	for k := range ds.devices {
		keys = append(keys, k)
	}
	ds.RUnlock()
	sort.Strings(keys)
	return keys
}
