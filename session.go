package netsdk

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// session is a logged in device
type session struct {
	id     LoginID
	params LoginParams
	info   DeviceInfo
	http   *deviceHTTP

	mu               sync.RWMutex
	recordStreamType RecordStreamType

	online atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(id LoginID, params LoginParams, info DeviceInfo, dev *deviceHTTP) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:     id,
		params: params,
		info:   info,
		http:   dev,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.online.Store(true)
	return s
}

func (s *session) getRecordStreamType() RecordStreamType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordStreamType
}

// stop cancels keep alive and waits for it. Keep alive must be started for the session
func (s *session) stop() {
	s.cancel()
	<-s.done
}

func (s *session) heartbeat(ctx context.Context, timeout time.Duration) error {
	hbCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := s.http.get(hbCtx, "/cgi-bin/global.cgi?action=getCurrentTime")
	return err
}

// startKeepAlive checks the session periodically. Lost session triggers disconnect callback once;
// with auto reconnect enabled the device is polled until it answers again
func (c *Client) startKeepAlive(s *session) {
	ctx := s.ctx
	c.liveWaiter.Add(1)
	go func() {
		defer c.liveWaiter.Done()
		defer close(s.done)
		for {
			netParam := c.NetworkParam()
			interval := netParam.HeartbeatInterval
			if !s.online.Load() {
				interval = reconnectInterval
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
			err := s.heartbeat(ctx, netParam.WaitTime)
			if ctx.Err() != nil {
				return
			}
			onDisconnect, onReconnect := c.callbacks()
			switch {
			case err != nil && s.online.Load():
				s.online.Store(false)
				log.Warn().Err(err).Str("scope", SCOPE_SESSION).Str("event", EVENT_SESSION_DISCONNECT).Int64("login_id", int64(s.id)).Str("ip", s.params.IP).Msg("Device has been disconnected")
				if onDisconnect != nil {
					onDisconnect(s.id, s.params.IP, s.params.Port)
				}
				if !c.isAutoReconnect() {
					return
				}
			case err == nil && !s.online.Load():
				s.online.Store(true)
				log.Info().Str("scope", SCOPE_SESSION).Str("event", EVENT_SESSION_RECONNECT).Int64("login_id", int64(s.id)).Str("ip", s.params.IP).Msg("Device has been reconnected")
				if onReconnect != nil {
					onReconnect(s.id, s.params.IP, s.params.Port)
				}
			case err == nil && c.verboseLevel() > VERBOSE_ADD:
				log.Info().Str("scope", SCOPE_SESSION).Str("event", EVENT_SESSION_HEARTBEAT).Int64("login_id", int64(s.id)).Msg("Heartbeat")
			}
		}
	}()
}
