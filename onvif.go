package netsdk

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/use-go/onvif"
	onvifDevice "github.com/use-go/onvif/device"
	sdkDevice "github.com/use-go/onvif/sdk/device"
)

// ctxTransport binds every SOAP request to the login context: the library does not accept one
type ctxTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (ct ctxTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return ct.base.RoundTrip(req.WithContext(ct.ctx))
}

func onvifHTTPClient(ctx context.Context, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: ctxTransport{ctx: ctx, base: http.DefaultTransport},
	}
}

// fillOnvifInfo asks ONVIF device service for identification. Failures are not fatal for login.
// Every request is bounded by timeout and by the context
func (c *Client) fillOnvifInfo(ctx context.Context, params LoginParams, info *DeviceInfo, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	dev, err := onvif.NewDevice(onvif.DeviceParams{
		Xaddr:      net.JoinHostPort(params.IP, strconv.Itoa(params.Port)),
		Username:   params.Username,
		Password:   params.Password,
		HttpClient: onvifHTTPClient(ctx, timeout),
	})
	if err != nil {
		log.Warn().Err(err).Str("scope", SCOPE_SESSION).Str("event", EVENT_SESSION_ONVIF).Str("ip", params.IP).Msg("Can't connect to ONVIF service")
		return
	}
	devInfo, err := sdkDevice.Call_GetDeviceInformation(ctx, dev, onvifDevice.GetDeviceInformation{})
	if err != nil {
		log.Warn().Err(err).Str("scope", SCOPE_SESSION).Str("event", EVENT_SESSION_ONVIF).Str("ip", params.IP).Msg("Can't fetch ONVIF device information")
		return
	}
	info.Manufacturer = devInfo.Manufacturer
	info.Model = devInfo.Model
	info.Firmware = devInfo.FirmwareVersion
	if info.SerialNumber == "" {
		info.SerialNumber = devInfo.SerialNumber
	}
	log.Info().Str("scope", SCOPE_SESSION).Str("event", EVENT_SESSION_ONVIF).Str("ip", params.IP).Str("manufacturer", info.Manufacturer).Str("model", info.Model).Str("firmware", info.Firmware).Msg("ONVIF identification")
}
