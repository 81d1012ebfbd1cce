package netsdk

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	sdkVersionMajor    = 3
	sdkVersionMinor    = 5
	sdkVersionRevision = 1
	sdkVersionBuild    = 20231018

	defaultWaitTime          = 5 * time.Second
	defaultConnectTryNum     = 3
	defaultConnectTime       = 3 * time.Second
	defaultHeartbeatInterval = 10 * time.Second
)

// How often lost sessions and real plays are retried
var reconnectInterval = 5 * time.Second

// DisconnectCallback is called once when device stops answering heartbeats.
// Do not call client methods from inside the callback
type DisconnectCallback func(loginID LoginID, ip string, port int)

// ReconnectCallback is called when disconnected device answers again (auto reconnect must be enabled)
type ReconnectCallback func(loginID LoginID, ip string, port int)

// NetParam is a set of network settings. Zero fields are ignored by SetNetworkParam
type NetParam struct {
	// Timeout for a single login attempt
	WaitTime time.Duration
	// Number of attempts made by single login call
	ConnectTryNum int
	// Timeout for establishing TCP connection
	ConnectTime time.Duration
	// How often sessions are checked for being alive
	HeartbeatInterval time.Duration
}

// Client is an instance of the SDK. All handles are bound to the client which produced them
type Client struct {
	sync.RWMutex
	initialized   bool
	onDisconnect  DisconnectCallback
	onReconnect   ReconnectCallback
	autoReconnect bool
	netParam      NetParam
	hlsParam      HLSParam
	verbose       VerboseLevel

	lastError  atomic.Uint32
	handleSeq  atomic.Int64
	handles    handlesStorage
	liveWaiter sync.WaitGroup
}

// NewClient returns not initialized client
func NewClient() *Client {
	return &Client{
		netParam: NetParam{
			WaitTime:          defaultWaitTime,
			ConnectTryNum:     defaultConnectTryNum,
			ConnectTime:       defaultConnectTime,
			HeartbeatInterval: defaultHeartbeatInterval,
		},
		hlsParam: defaultHLSParam(),
		handles:  newHandlesStorage(),
	}
}

// Init initializes client. disconnectCallback could be nil
func (c *Client) Init(disconnectCallback DisconnectCallback) error {
	c.Lock()
	defer c.Unlock()
	c.onDisconnect = disconnectCallback
	c.initialized = true
	log.Info().Str("scope", SCOPE_SDK).Str("event", EVENT_SDK_INIT).Uint32("version", Version()).Msg("Client has been initialized")
	return nil
}

// Version returns packed SDK version: major*10^7 + minor*10^5 + revision, e.g. 30500001 for 3.5.1
func Version() uint32 {
	return uint32(sdkVersionMajor*10000000 + sdkVersionMinor*100000 + sdkVersionRevision)
}

// BuildVersion returns build date of the SDK
func BuildVersion() int {
	return sdkVersionBuild
}

// SetVerbose sets verbose level for per-packet and per-request logging
func (c *Client) SetVerbose(level VerboseLevel) {
	c.Lock()
	c.verbose = level
	c.Unlock()
}

// SetAutoReconnect enables reconnection of lost sessions and real plays. reconnectCallback could be nil
func (c *Client) SetAutoReconnect(reconnectCallback ReconnectCallback) {
	c.Lock()
	c.onReconnect = reconnectCallback
	c.autoReconnect = true
	c.Unlock()
}

// SetConnectTime sets timeout of single login attempt and number of attempts
func (c *Client) SetConnectTime(waitTime time.Duration, tryTimes int) {
	c.SetNetworkParam(NetParam{WaitTime: waitTime, ConnectTryNum: tryTimes})
}

// SetNetworkParam updates network settings. Zero fields keep current values
func (c *Client) SetNetworkParam(param NetParam) {
	c.Lock()
	defer c.Unlock()
	if param.WaitTime > 0 {
		c.netParam.WaitTime = param.WaitTime
	}
	if param.ConnectTryNum > 0 {
		c.netParam.ConnectTryNum = param.ConnectTryNum
	}
	if param.ConnectTime > 0 {
		c.netParam.ConnectTime = param.ConnectTime
	}
	if param.HeartbeatInterval > 0 {
		c.netParam.HeartbeatInterval = param.HeartbeatInterval
	}
}

// NetworkParam returns current network settings
func (c *Client) NetworkParam() NetParam {
	c.RLock()
	defer c.RUnlock()
	return c.netParam
}

// LastError returns code of the last failed call
func (c *Client) LastError() ErrorCode {
	return ErrorCode(c.lastError.Load())
}

// Cleanup stops every real play, download and finder and logs out from every device
func (c *Client) Cleanup() {
	for _, loginID := range c.handles.sessionIDs() {
		if err := c.Logout(loginID); err != nil {
			log.Warn().Err(err).Str("scope", SCOPE_SDK).Str("event", EVENT_SDK_CLEANUP).Int64("login_id", int64(loginID)).Msg("Can't logout")
		}
	}
	c.liveWaiter.Wait()
	c.Lock()
	wasInitialized := c.initialized
	c.initialized = false
	c.autoReconnect = false
	c.onDisconnect = nil
	c.onReconnect = nil
	c.Unlock()
	if wasInitialized {
		log.Info().Str("scope", SCOPE_SDK).Str("event", EVENT_SDK_CLEANUP).Msg("Client has been cleaned up")
	}
}

func (c *Client) isInitialized() bool {
	c.RLock()
	defer c.RUnlock()
	return c.initialized
}

func (c *Client) isAutoReconnect() bool {
	c.RLock()
	defer c.RUnlock()
	return c.autoReconnect
}

func (c *Client) verboseLevel() VerboseLevel {
	c.RLock()
	defer c.RUnlock()
	return c.verbose
}

func (c *Client) callbacks() (DisconnectCallback, ReconnectCallback) {
	c.RLock()
	defer c.RUnlock()
	return c.onDisconnect, c.onReconnect
}

// fail remembers the code as the last error and returns SDKError
func (c *Client) fail(op string, code ErrorCode, err error) error {
	c.lastError.Store(uint32(code))
	return newSDKError(op, code, err)
}

func (c *Client) ensureInit(op string) error {
	if !c.isInitialized() {
		return c.fail(op, ErrCodeSDKUninit, nil)
	}
	return nil
}

func (c *Client) nextHandle() int64 {
	return c.handleSeq.Add(1)
}
