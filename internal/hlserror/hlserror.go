// Package hlserror keeps the last HLS failure of every stream so HTTP handlers could answer with it
package hlserror

import (
	"sync"

	"github.com/google/uuid"
)

var hem = hlserrorMap{status: make(map[uuid.UUID]hlserror)}

type hlserrorMap struct {
	sync.RWMutex
	status map[uuid.UUID]hlserror
}

type hlserror struct {
	code int
	err  error
}

// SetError remembers failure of the stream with HTTP status code
func SetError(stream uuid.UUID, code int, err error) {
	hem.Lock()
	hem.status[stream] = hlserror{code, err}
	hem.Unlock()
}

// GetError returns remembered failure. Healthy stream gives 200 and nil
func GetError(stream uuid.UUID) (code int, err error) {
	hem.RLock()
	herr, ok := hem.status[stream]
	hem.RUnlock()
	if ok {
		return herr.code, herr.err
	}
	return 200, nil
}

// Reset forgets failure of the stream
func Reset(stream uuid.UUID) {
	hem.Lock()
	delete(hem.status, stream)
	hem.Unlock()
}
