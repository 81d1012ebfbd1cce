package netsdk

import (
	"sync"

	"github.com/google/uuid"
)

// LoginID is a handle of the device session. Zero is not valid
type LoginID int64

// PlayID is a handle of the real play or playback. Zero is not valid
type PlayID int64

// FindID is a handle of the record files search. Zero is not valid
type FindID int64

// DownloadID is a handle of the download. Zero is not valid
type DownloadID int64

// handlesStorage is a map wrapper for every kind of handle with mutex for concurrent usage
type handlesStorage struct {
	sync.RWMutex
	sessions  map[LoginID]*session
	plays     map[PlayID]*realPlay
	streams   map[uuid.UUID]PlayID
	finders   map[FindID]*finder
	downloads map[DownloadID]*download
}

func newHandlesStorage() handlesStorage {
	return handlesStorage{
		sessions:  make(map[LoginID]*session),
		plays:     make(map[PlayID]*realPlay),
		streams:   make(map[uuid.UUID]PlayID),
		finders:   make(map[FindID]*finder),
		downloads: make(map[DownloadID]*download),
	}
}

func (hs *handlesStorage) addSession(s *session) {
	hs.Lock()
	hs.sessions[s.id] = s
	hs.Unlock()
}

func (hs *handlesStorage) getSession(id LoginID) (*session, bool) {
	hs.RLock()
	s, ok := hs.sessions[id]
	hs.RUnlock()
	return s, ok
}

func (hs *handlesStorage) deleteSession(id LoginID) (*session, bool) {
	hs.Lock()
	defer hs.Unlock()
	s, ok := hs.sessions[id]
	delete(hs.sessions, id)
	return s, ok
}

// sessionIDs returns snapshot of all sessions' handles
func (hs *handlesStorage) sessionIDs() []LoginID {
	hs.RLock()
	defer hs.RUnlock()
	keys := make([]LoginID, 0, len(hs.sessions))
	for k := range hs.sessions {
		keys = append(keys, k)
	}
	return keys
}

func (hs *handlesStorage) addPlay(p *realPlay) {
	hs.Lock()
	hs.plays[p.id] = p
	hs.streams[p.streamID] = p.id
	hs.Unlock()
}

func (hs *handlesStorage) getPlay(id PlayID) (*realPlay, bool) {
	hs.RLock()
	p, ok := hs.plays[id]
	hs.RUnlock()
	return p, ok
}

func (hs *handlesStorage) getPlayByStream(streamID uuid.UUID) (*realPlay, bool) {
	hs.RLock()
	defer hs.RUnlock()
	id, ok := hs.streams[streamID]
	if !ok {
		return nil, false
	}
	p, ok := hs.plays[id]
	return p, ok
}

func (hs *handlesStorage) deletePlay(id PlayID) (*realPlay, bool) {
	hs.Lock()
	defer hs.Unlock()
	p, ok := hs.plays[id]
	if ok {
		delete(hs.streams, p.streamID)
	}
	delete(hs.plays, id)
	return p, ok
}

// playIDs returns handles of real plays opened by the session
func (hs *handlesStorage) playIDs(loginID LoginID) []PlayID {
	hs.RLock()
	defer hs.RUnlock()
	keys := []PlayID{}
	for k, p := range hs.plays {
		if p.loginID == loginID {
			keys = append(keys, k)
		}
	}
	return keys
}

func (hs *handlesStorage) addFinder(f *finder) {
	hs.Lock()
	hs.finders[f.id] = f
	hs.Unlock()
}

func (hs *handlesStorage) getFinder(id FindID) (*finder, bool) {
	hs.RLock()
	f, ok := hs.finders[id]
	hs.RUnlock()
	return f, ok
}

func (hs *handlesStorage) deleteFinder(id FindID) (*finder, bool) {
	hs.Lock()
	defer hs.Unlock()
	f, ok := hs.finders[id]
	delete(hs.finders, id)
	return f, ok
}

func (hs *handlesStorage) finderIDs(loginID LoginID) []FindID {
	hs.RLock()
	defer hs.RUnlock()
	keys := []FindID{}
	for k, f := range hs.finders {
		if f.loginID == loginID {
			keys = append(keys, k)
		}
	}
	return keys
}

func (hs *handlesStorage) addDownload(d *download) {
	hs.Lock()
	hs.downloads[d.id] = d
	hs.Unlock()
}

func (hs *handlesStorage) getDownload(id DownloadID) (*download, bool) {
	hs.RLock()
	d, ok := hs.downloads[id]
	hs.RUnlock()
	return d, ok
}

func (hs *handlesStorage) deleteDownload(id DownloadID) (*download, bool) {
	hs.Lock()
	defer hs.Unlock()
	d, ok := hs.downloads[id]
	delete(hs.downloads, id)
	return d, ok
}

func (hs *handlesStorage) downloadIDs(loginID LoginID) []DownloadID {
	hs.RLock()
	defer hs.RUnlock()
	keys := []DownloadID{}
	for k, d := range hs.downloads {
		if d.loginID == loginID {
			keys = append(keys, k)
		}
	}
	return keys
}
