package netsdk

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultHTTPPort   = 80
	defaultRTSPPort   = 554
	defaultLoginRetry = time.Second
)

// LoginSpecCap is a login capability. Only TCP is supported: RTSP is interleaved into the TCP connection
type LoginSpecCap int

const (
	LoginSpecCapTCP = LoginSpecCap(iota)
)

// LoginParams are the device connection parameters
type LoginParams struct {
	IP       string       `json:"ip"`
	Port     int          `json:"port"`
	RTSPPort int          `json:"rtsp_port"`
	Username string       `json:"username"`
	Password string       `json:"password"`
	SpecCap  LoginSpecCap `json:"spec_cap"`
	// Ask device's ONVIF service for manufacturer, model and firmware
	Onvif bool `json:"onvif"`
}

func (lp *LoginParams) prepareDefaults() {
	if lp.Port == 0 {
		lp.Port = defaultHTTPPort
	}
	if lp.RTSPPort == 0 {
		lp.RTSPPort = defaultRTSPPort
	}
}

func (lp *LoginParams) validate() error {
	if lp.IP == "" {
		return errors.New("empty IP")
	}
	if lp.Username == "" {
		return errors.New("empty username")
	}
	if lp.Port < 0 || lp.Port > 65535 || lp.RTSPPort < 0 || lp.RTSPPort > 65535 {
		return errors.New("bad port")
	}
	if lp.SpecCap != LoginSpecCapTCP {
		return errors.Errorf("login capability %d is not supported", lp.SpecCap)
	}
	return nil
}

// DeviceInfo is what device has told about itself on login
type DeviceInfo struct {
	SerialNumber    string `json:"serial_number"`
	DeviceType      string `json:"device_type"`
	MachineName     string `json:"machine_name"`
	SoftwareVersion string `json:"software_version"`
	ChannelCount    int    `json:"channel_count"`
	Manufacturer    string `json:"manufacturer"`
	Model           string `json:"model"`
	Firmware        string `json:"firmware"`
}

// LoginWithHighLevelSecurity logs into the device. Returned handle is valid until Logout or Cleanup
func (c *Client) LoginWithHighLevelSecurity(ctx context.Context, params LoginParams) (LoginID, DeviceInfo, error) {
	const op = "LoginWithHighLevelSecurity"
	if err := c.ensureInit(op); err != nil {
		return 0, DeviceInfo{}, err
	}
	params.prepareDefaults()
	if err := params.validate(); err != nil {
		return 0, DeviceInfo{}, c.fail(op, ErrCodeIllegalParam, err)
	}
	netParam := c.NetworkParam()
	dev := newDeviceHTTP(params.IP, params.Port, params.Username, params.Password, netParam.ConnectTime, c.verboseLevel())

	var lastErr error
	for attempt := 1; attempt <= netParam.ConnectTryNum; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, netParam.WaitTime)
		info, err := queryDeviceInfo(attemptCtx, dev)
		cancel()
		if err == nil {
			if params.Onvif {
				c.fillOnvifInfo(ctx, params, &info, netParam.WaitTime)
			}
			// Session is stoppable from the moment it is published
			s := newSession(LoginID(c.nextHandle()), params, info, dev)
			c.handles.addSession(s)
			c.startKeepAlive(s)
			log.Info().Str("scope", SCOPE_SESSION).Str("event", EVENT_SESSION_LOGIN).Int64("login_id", int64(s.id)).Str("ip", params.IP).Int("port", params.Port).Str("serial_number", info.SerialNumber).Str("device_type", info.DeviceType).Int("channels", info.ChannelCount).Msg("Logged in")
			return s.id, info, nil
		}
		lastErr = err
		code := classifyError(err, true)
		log.Warn().Err(err).Str("scope", SCOPE_SESSION).Str("event", EVENT_SESSION_LOGIN_FAIL).Str("ip", params.IP).Int("port", params.Port).Int("attempt", attempt).Str("code", code.String()).Msg("Login attempt failed")
		if ctx.Err() != nil || code == ErrCodeLoginPassword || code == ErrCodeLoginLocked {
			break
		}
	}
	return 0, DeviceInfo{}, c.fail(op, classifyError(lastErr, true), lastErr)
}

// TestConnection checks that the device answers with the credentials without opening a session
func (c *Client) TestConnection(ctx context.Context, params LoginParams) (DeviceInfo, error) {
	const op = "TestConnection"
	if err := c.ensureInit(op); err != nil {
		return DeviceInfo{}, err
	}
	params.prepareDefaults()
	if err := params.validate(); err != nil {
		return DeviceInfo{}, c.fail(op, ErrCodeIllegalParam, err)
	}
	netParam := c.NetworkParam()
	dev := newDeviceHTTP(params.IP, params.Port, params.Username, params.Password, netParam.ConnectTime, c.verboseLevel())
	testCtx, cancel := context.WithTimeout(ctx, netParam.WaitTime)
	defer cancel()
	info, err := queryDeviceInfo(testCtx, dev)
	if err != nil {
		code := classifyError(err, true)
		log.Warn().Err(err).Str("scope", SCOPE_SESSION).Str("event", EVENT_SESSION_TEST).Str("ip", params.IP).Int("port", params.Port).Str("code", code.String()).Msg("Device is not reachable")
		return DeviceInfo{}, c.fail(op, code, err)
	}
	if params.Onvif {
		c.fillOnvifInfo(ctx, params, &info, netParam.WaitTime)
	}
	log.Info().Str("scope", SCOPE_SESSION).Str("event", EVENT_SESSION_TEST).Str("ip", params.IP).Int("port", params.Port).Str("device_type", info.DeviceType).Msg("Device is reachable")
	return info, nil
}

// LoginLoop repeats login every interval until success or context cancellation
func (c *Client) LoginLoop(ctx context.Context, params LoginParams, interval time.Duration) (LoginID, DeviceInfo, error) {
	if interval <= 0 {
		interval = defaultLoginRetry
	}
	for {
		loginID, info, err := c.LoginWithHighLevelSecurity(ctx, params)
		if err == nil {
			return loginID, info, nil
		}
		if CodeOf(err) == ErrCodeSDKUninit || CodeOf(err) == ErrCodeIllegalParam {
			return 0, DeviceInfo{}, err
		}
		log.Error().Err(err).Str("scope", SCOPE_SESSION).Str("event", EVENT_SESSION_LOGIN_FAIL).Str("ip", params.IP).Int("port", params.Port).Msgf("Login failed! Last Error[%x]", uint32(c.LastError()))
		select {
		case <-ctx.Done():
			return 0, DeviceInfo{}, errors.Wrap(ctx.Err(), "Login loop has been cancelled")
		case <-time.After(interval):
		}
	}
}

// Logout stops everything opened by the session and forgets the handle
func (c *Client) Logout(loginID LoginID) error {
	const op = "Logout"
	s, ok := c.handles.deleteSession(loginID)
	if !ok {
		return c.fail(op, ErrCodeInvalidHandle, ErrSessionNotFound)
	}
	for _, playID := range c.handles.playIDs(loginID) {
		if err := c.StopRealPlay(playID); err != nil {
			log.Warn().Err(err).Str("scope", SCOPE_SESSION).Str("event", EVENT_SESSION_LOGOUT).Int64("play_id", int64(playID)).Msg("Can't stop real play")
		}
	}
	for _, downloadID := range c.handles.downloadIDs(loginID) {
		if err := c.StopDownload(downloadID); err != nil {
			log.Warn().Err(err).Str("scope", SCOPE_SESSION).Str("event", EVENT_SESSION_LOGOUT).Int64("download_id", int64(downloadID)).Msg("Can't stop download")
		}
	}
	for _, findID := range c.handles.finderIDs(loginID) {
		if err := c.FindClose(findID); err != nil {
			log.Warn().Err(err).Str("scope", SCOPE_SESSION).Str("event", EVENT_SESSION_LOGOUT).Int64("find_id", int64(findID)).Msg("Can't close finder")
		}
	}
	s.stop()
	log.Info().Str("scope", SCOPE_SESSION).Str("event", EVENT_SESSION_LOGOUT).Int64("login_id", int64(loginID)).Str("ip", s.params.IP).Msg("Logged out")
	return nil
}

// DeviceInfo returns information which has been gathered on login
func (c *Client) DeviceInfo(loginID LoginID) (DeviceInfo, error) {
	s, ok := c.handles.getSession(loginID)
	if !ok {
		return DeviceInfo{}, c.fail("DeviceInfo", ErrCodeInvalidHandle, ErrSessionNotFound)
	}
	return s.info, nil
}

// IsOnline reports whether the last heartbeat of the session has succeeded
func (c *Client) IsOnline(loginID LoginID) bool {
	s, ok := c.handles.getSession(loginID)
	if !ok {
		return false
	}
	return s.online.Load()
}

func queryDeviceInfo(ctx context.Context, dev *deviceHTTP) (DeviceInfo, error) {
	info := DeviceInfo{ChannelCount: 1}
	body, err := dev.get(ctx, "/cgi-bin/magicBox.cgi?action=getDeviceType")
	if err != nil {
		return info, err
	}
	info.DeviceType = cgiValue(body)
	body, err = dev.get(ctx, "/cgi-bin/magicBox.cgi?action=getSerialNo")
	if err != nil {
		return info, err
	}
	info.SerialNumber = cgiValue(body)

	// Optional ones: not every firmware supports them
	if body, err = dev.get(ctx, "/cgi-bin/magicBox.cgi?action=getMachineName"); err == nil {
		info.MachineName = cgiValue(body)
	}
	if body, err = dev.get(ctx, "/cgi-bin/magicBox.cgi?action=getSoftwareVersion"); err == nil {
		info.SoftwareVersion = cgiValue(body)
	}
	if body, err = dev.get(ctx, "/cgi-bin/devVideoInput.cgi?action=getCollect"); err == nil {
		if n, errConv := strconv.Atoi(cgiValue(body)); errConv == nil && n > 0 {
			info.ChannelCount = n
		}
	}
	return info, nil
}
