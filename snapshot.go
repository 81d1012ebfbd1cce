package netsdk

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	maxSnapshotBytes = 16 << 20
	// Shorter answers are error pages of the firmware rather than pictures
	minSnapshotBytes = 100
)

// picture performs GET request and returns the body when it is an image
func (d *deviceHTTP) picture(ctx context.Context, path string) ([]byte, error) {
	resp, err := d.open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "image") {
		return nil, errors.Wrapf(ErrNotPicture, "'%s' has content type '%s'", path, contentType)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "Can't read picture from '%s'", path)
	}
	if len(data) <= minSnapshotBytes {
		return nil, errors.Wrapf(ErrNotPicture, "'%s' returned %d bytes", path, len(data))
	}
	return data, nil
}

// SnapPicture captures current JPEG picture of the channel (zero based).
// Firmwares without per channel snapshots are asked for the default one when channel is 0
func (c *Client) SnapPicture(ctx context.Context, loginID LoginID, channel int) ([]byte, error) {
	const op = "SnapPicture"
	if err := c.ensureInit(op); err != nil {
		return nil, err
	}
	s, ok := c.handles.getSession(loginID)
	if !ok {
		return nil, c.fail(op, ErrCodeInvalidHandle, ErrSessionNotFound)
	}
	if channel < 0 || channel >= s.info.ChannelCount {
		return nil, c.fail(op, ErrCodeIllegalParam, errors.Errorf("channel %d is out of range [0; %d)", channel, s.info.ChannelCount))
	}
	paths := []string{fmt.Sprintf("/cgi-bin/snapshot.cgi?channel=%d", channel+1)}
	if channel == 0 {
		paths = append(paths, "/cgi-bin/snapshot.cgi")
	}
	waitTime := c.NetworkParam().WaitTime
	var lastErr error
	for _, path := range paths {
		snapCtx, cancel := context.WithTimeout(ctx, waitTime)
		data, err := s.http.picture(snapCtx, path)
		cancel()
		if err == nil {
			if c.verboseLevel() > VERBOSE_NONE {
				log.Info().Str("scope", SCOPE_SESSION).Str("event", EVENT_SESSION_SNAPSHOT).Int64("login_id", int64(loginID)).Int("channel", channel).Str("path", path).Int("bytes", len(data)).Msg("Picture has been captured")
			}
			return data, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("scope", SCOPE_SESSION).Str("event", EVENT_SESSION_SNAPSHOT).Int64("login_id", int64(loginID)).Int("channel", channel).Str("path", path).Msg("Can't capture picture")
		if ctx.Err() != nil {
			break
		}
	}
	code := classifyError(lastErr, false)
	if errors.Is(lastErr, ErrNotPicture) {
		code = ErrCodeDeviceResponse
	}
	return nil, c.fail(op, code, lastErr)
}
