package netsdk

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/deepch/vdk/av"
	"github.com/deepch/vdk/format/rtspv2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	pingDuration        = 15 * time.Second
	pingDurationRestart = pingDuration + 1*time.Second
	dialTimeoutDuration = 33 * time.Second
	readTimeoutDuration = 33 * time.Second
	viewerBufferSize    = 100
)

// RealDataCallback receives every packet of the real play. Do not block inside
type RealDataCallback func(playID PlayID, dataType DataType, buf []byte)

type viewer struct {
	c chan av.Packet
}

// realPlay is a live (or playback) RTSP session with its outputs
type realPlay struct {
	sync.RWMutex
	id       PlayID
	loginID  LoginID
	streamID uuid.UUID
	url      string
	channel  int
	playType RealPlayType
	// Playback ends with the stream instead of being redialed
	playback bool
	outputs  map[StreamType]struct{}

	codecs       []av.CodecData
	status       bool
	viewers      map[uuid.UUID]viewer
	hlsChanel    chan av.Packet
	dataCallback RealDataCallback
	recorder     *recorder
	// Set once viewers have been closed: no new viewer is accepted
	stopped bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newRealPlay(id PlayID, loginID LoginID, playURL string, channel int, outputs []StreamType) *realPlay {
	p := &realPlay{
		id:        id,
		loginID:   loginID,
		streamID:  uuid.New(),
		url:       playURL,
		channel:   channel,
		outputs:   make(map[StreamType]struct{}, len(outputs)),
		viewers:   make(map[uuid.UUID]viewer),
		hlsChanel: make(chan av.Packet, viewerBufferSize),
		done:      make(chan struct{}),
	}
	for _, output := range outputs {
		p.outputs[output] = struct{}{}
	}
	return p
}

func (p *realPlay) hasOutput(streamType StreamType) bool {
	_, ok := p.outputs[streamType]
	return ok
}

func (p *realPlay) setCodecs(codecs []av.CodecData) {
	p.Lock()
	p.codecs = codecs
	p.Unlock()
}

func (p *realPlay) getCodecs() []av.CodecData {
	p.RLock()
	defer p.RUnlock()
	codecs := make([]av.CodecData, len(p.codecs))
	copy(codecs, p.codecs)
	return codecs
}

func (p *realPlay) setStatus(status bool) {
	p.Lock()
	p.status = status
	p.Unlock()
}

// cast passes packet to every consumer. Slow consumers lose packets, grabber never waits for them
func (p *realPlay) cast(pck av.Packet, hlsEnabled bool) {
	p.RLock()
	if hlsEnabled {
		select {
		case p.hlsChanel <- pck:
		default:
		}
	}
	for _, v := range p.viewers {
		select {
		case v.c <- pck:
		default:
		}
	}
	if p.recorder != nil {
		p.recorder.push(pck)
	}
	callback := p.dataCallback
	p.RUnlock()
	if callback != nil {
		callback(p.id, DataTypeRaw, pck.Data)
	}
}

// PlayInfo is a snapshot of the real play state
type PlayInfo struct {
	PlayID    PlayID    `json:"play_id"`
	LoginID   LoginID   `json:"login_id"`
	StreamID  uuid.UUID `json:"stream_id"`
	Channel   int       `json:"channel"`
	Type      string    `json:"type"`
	Playback  bool      `json:"playback"`
	Status    bool      `json:"status"`
	Outputs   []string  `json:"outputs"`
	Viewers   int       `json:"viewers"`
	Recording string    `json:"recording,omitempty"`
}

func rtspURL(params LoginParams, pathAndQuery string) string {
	u := url.URL{
		Scheme: "rtsp",
		User:   url.UserPassword(params.Username, params.Password),
		Host:   net.JoinHostPort(params.IP, strconv.Itoa(params.RTSPPort)),
	}
	return u.String() + pathAndQuery
}

func dialRealPlay(playURL string, verbose VerboseLevel) (*rtspv2.RTSPClient, error) {
	return rtspv2.Dial(rtspv2.RTSPClientOptions{
		URL:              playURL,
		DisableAudio:     true,
		DialTimeout:      dialTimeoutDuration,
		ReadWriteTimeout: readTimeoutDuration,
		Debug:            verbose > VERBOSE_ADD,
	})
}

// RealPlayEx opens live stream of the channel (zero based). Outputs enable HLS and MSE for viewers
func (c *Client) RealPlayEx(ctx context.Context, loginID LoginID, channel int, playType RealPlayType, outputs ...StreamType) (PlayID, error) {
	const op = "RealPlayEx"
	if playType < RealPlayMain || playType > RealPlayExtra2 {
		return 0, c.fail(op, ErrCodeIllegalParam, errors.Errorf("bad real play type %d", playType))
	}
	path := fmt.Sprintf("/cam/realmonitor?channel=%d&subtype=%d", channel+1, int(playType))
	return c.startPlay(ctx, op, loginID, channel, playType, path, false, outputs)
}

// PlayBackByTime opens playback of device's records in the range. Playback is not redialed when it ends
func (c *Client) PlayBackByTime(ctx context.Context, loginID LoginID, channel int, start, stop NetTime, outputs ...StreamType) (PlayID, error) {
	const op = "PlayBackByTime"
	if err := validateTimeRange(start, stop); err != nil {
		return 0, c.fail(op, ErrCodeIllegalParam, err)
	}
	path := fmt.Sprintf("/cam/playback?channel=%d&starttime=%s&endtime=%s", channel+1, start.playbackString(), stop.playbackString())
	return c.startPlay(ctx, op, loginID, channel, RealPlayMain, path, true, outputs)
}

func (c *Client) startPlay(ctx context.Context, op string, loginID LoginID, channel int, playType RealPlayType, path string, playback bool, outputs []StreamType) (PlayID, error) {
	if err := c.ensureInit(op); err != nil {
		return 0, err
	}
	s, ok := c.handles.getSession(loginID)
	if !ok {
		return 0, c.fail(op, ErrCodeInvalidHandle, ErrSessionNotFound)
	}
	if channel < 0 || channel >= s.info.ChannelCount {
		return 0, c.fail(op, ErrCodeIllegalParam, errors.Errorf("channel %d is out of range [0; %d)", channel, s.info.ChannelCount))
	}
	for _, output := range outputs {
		if output != STREAM_TYPE_HLS && output != STREAM_TYPE_MSE {
			return 0, c.fail(op, ErrCodeIllegalParam, errors.Errorf("output '%s' is not supported", output))
		}
	}
	if ctx.Err() != nil {
		return 0, c.fail(op, ErrCodeOpenChannel, ctx.Err())
	}

	p := newRealPlay(PlayID(c.nextHandle()), loginID, rtspURL(s.params, path), channel, outputs)
	p.playType = playType
	p.playback = playback
	verbose := c.verboseLevel()
	log.Info().Str("scope", SCOPE_REALPLAY).Str("event", EVENT_REALPLAY_DIAL).Int64("login_id", int64(loginID)).Int64("play_id", int64(p.id)).Str("stream_id", p.streamID.String()).Int("channel", channel).Str("path", path).Msg("Trying to dial")
	rtspSession, err := dialRealPlay(p.url, verbose)
	if err != nil {
		return 0, c.fail(op, ErrCodeOpenChannel, errors.Wrapf(err, "Can't connect to channel %d", channel))
	}
	playCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	c.handles.addPlay(p)
	go c.playLoop(playCtx, p, rtspSession)
	return p.id, nil
}

// playLoop runs grabbing process and redials when the stream is lost
func (c *Client) playLoop(ctx context.Context, p *realPlay, rtspSession *rtspv2.RTSPClient) {
	defer close(p.done)
	for {
		if rtspSession != nil {
			err := c.runRealPlay(ctx, p, rtspSession)
			rtspSession = nil
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				log.Error().Err(err).Str("scope", SCOPE_REALPLAY).Str("event", EVENT_REALPLAY_STOP_SIGNAL).Int64("play_id", int64(p.id)).Str("stream_id", p.streamID.String()).Msg("Grabbing process has been stopped")
			}
			if p.playback && errors.Is(err, ErrStreamDisconnected) {
				log.Info().Str("scope", SCOPE_REALPLAY).Str("event", EVENT_REALPLAY_STOP).Int64("play_id", int64(p.id)).Msg("Playback has reached the end")
				return
			}
		}
		if !c.isAutoReconnect() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
		}
		log.Info().Str("scope", SCOPE_REALPLAY).Str("event", EVENT_REALPLAY_RESTART).Int64("play_id", int64(p.id)).Str("stream_id", p.streamID.String()).Msg("Stream must be re-established")
		var err error
		rtspSession, err = dialRealPlay(p.url, c.verboseLevel())
		if err != nil {
			log.Error().Err(err).Str("scope", SCOPE_REALPLAY).Str("event", EVENT_REALPLAY_RESTART).Int64("play_id", int64(p.id)).Msg("Can't redial stream")
			rtspSession = nil
		}
	}
}

// runRealPlay grabs packets until the stream breaks or context is cancelled
func (c *Client) runRealPlay(ctx context.Context, p *realPlay, rtspSession *rtspv2.RTSPClient) error {
	defer rtspSession.Close()
	defer p.setStatus(false)
	streamID := p.streamID.String()
	verbose := c.verboseLevel()

	if len(rtspSession.CodecData) != 0 {
		log.Info().Str("scope", SCOPE_REALPLAY).Str("event", EVENT_REALPLAY_CODEC_MET).Str("stream_id", streamID).Any("codec_data", rtspSession.CodecData).Msg("Found codec. Adding this one")
		p.setCodecs(rtspSession.CodecData)
		p.setStatus(true)
	}

	isAudioOnly := false
	if len(rtspSession.CodecData) == 1 && rtspSession.CodecData[0].Type().IsAudio() {
		isAudioOnly = true
	}

	hlsEnabled := p.hasOutput(STREAM_TYPE_HLS)
	if hlsEnabled {
		log.Info().Str("scope", SCOPE_REALPLAY).Str("event", EVENT_REALPLAY_HLS_REQ).Str("stream_id", streamID).Msg("Need to start casting for HLS")
		stopHlsCast := make(chan bool, 1)
		c.startHlsCast(p, stopHlsCast)
		defer func() {
			stopHlsCast <- true
		}()
	}

	pingStream := time.NewTimer(pingDuration)
	defer pingStream.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pingStream.C:
			log.Error().Err(ErrStreamHasNoVideo).Str("scope", SCOPE_REALPLAY).Str("event", EVENT_REALPLAY_NO_VIDEO).Str("stream_id", streamID).Msg("Stream has no video")
			return errors.Wrapf(ErrStreamHasNoVideo, "Play %d", p.id)
		case signals := <-rtspSession.Signals:
			switch signals {
			case rtspv2.SignalCodecUpdate:
				log.Info().Str("scope", SCOPE_REALPLAY).Str("event", EVENT_REALPLAY_CODEC_UPD).Str("stream_id", streamID).Any("codec_data", rtspSession.CodecData).Msg("Recieved update codec signal")
				p.setCodecs(rtspSession.CodecData)
				p.setStatus(true)
			case rtspv2.SignalStreamRTPStop:
				log.Info().Str("scope", SCOPE_REALPLAY).Str("event", EVENT_REALPLAY_STOP_SIGNAL).Str("stream_id", streamID).Msg("Recieved stop signal")
				return errors.Wrapf(ErrStreamDisconnected, "Play %d", p.id)
			}
		case packetAV := <-rtspSession.OutgoingPacketQueue:
			if isAudioOnly || packetAV.IsKeyFrame {
				if verbose > VERBOSE_ADD {
					log.Info().Str("scope", SCOPE_REALPLAY).Str("event", EVENT_REALPLAY_CODEC_MET).Str("stream_id", streamID).Bool("only_audio", isAudioOnly).Bool("is_keyframe", packetAV.IsKeyFrame).Msg("Need to reset ping for stream")
				}
				pingStream.Reset(pingDurationRestart)
			}
			p.cast(*packetAV, hlsEnabled)
		}
	}
}

// SetRealDataCallback installs (or removes with nil) raw data consumer of the real play
func (c *Client) SetRealDataCallback(playID PlayID, callback RealDataCallback) error {
	p, ok := c.handles.getPlay(playID)
	if !ok {
		return c.fail("SetRealDataCallback", ErrCodeInvalidHandle, ErrPlayNotFound)
	}
	p.Lock()
	p.dataCallback = callback
	p.Unlock()
	return nil
}

// StopRealPlay stops recording, outputs and grabbing process
func (c *Client) StopRealPlay(playID PlayID) error {
	p, ok := c.handles.deletePlay(playID)
	if !ok {
		return c.fail("StopRealPlay", ErrCodeInvalidHandle, ErrPlayNotFound)
	}
	if err := p.stopRecording(); err != nil {
		log.Warn().Err(err).Str("scope", SCOPE_REALPLAY).Str("event", EVENT_REALPLAY_STOP).Int64("play_id", int64(playID)).Msg("Can't finish recording")
	}
	p.cancel()
	<-p.done
	p.closeViewers()
	log.Info().Str("scope", SCOPE_REALPLAY).Str("event", EVENT_REALPLAY_STOP).Int64("play_id", int64(playID)).Str("stream_id", p.streamID.String()).Msg("Real play has been stopped")
	return nil
}

// PlayInfo returns state of the real play
func (c *Client) PlayInfo(playID PlayID) (PlayInfo, error) {
	p, ok := c.handles.getPlay(playID)
	if !ok {
		return PlayInfo{}, c.fail("PlayInfo", ErrCodeInvalidHandle, ErrPlayNotFound)
	}
	p.RLock()
	defer p.RUnlock()
	info := PlayInfo{
		PlayID:   p.id,
		LoginID:  p.loginID,
		StreamID: p.streamID,
		Channel:  p.channel,
		Type:     p.playType.String(),
		Playback: p.playback,
		Status:   p.status,
		Outputs:  []string{},
		Viewers:  len(p.viewers),
	}
	for output := range p.outputs {
		info.Outputs = append(info.Outputs, output.String())
	}
	if p.recorder != nil {
		info.Recording = p.recorder.fileName
	}
	return info, nil
}

// StreamHasOutput reports whether the stream exists and has the output enabled
func (c *Client) StreamHasOutput(streamID uuid.UUID, streamType StreamType) bool {
	p, ok := c.handles.getPlayByStream(streamID)
	if !ok {
		return false
	}
	return p.hasOutput(streamType)
}

// Codecs returns codecs of the stream
func (c *Client) Codecs(streamID uuid.UUID) ([]av.CodecData, error) {
	p, ok := c.handles.getPlayByStream(streamID)
	if !ok {
		return nil, ErrPlayNotFound
	}
	codecs := p.getCodecs()
	if len(codecs) == 0 {
		return nil, ErrNoCodecData
	}
	return codecs, nil
}

// closeViewers closes channels of every viewer and stops accepting new ones
func (p *realPlay) closeViewers() {
	p.Lock()
	defer p.Unlock()
	p.stopped = true
	for viewerID, v := range p.viewers {
		close(v.c)
		delete(p.viewers, viewerID)
	}
}

// addViewer registers new viewer unless the real play has been stopped
func (p *realPlay) addViewer() (uuid.UUID, chan av.Packet, bool) {
	p.Lock()
	defer p.Unlock()
	if p.stopped {
		return uuid.UUID{}, nil, false
	}
	viewerID := uuid.New()
	ch := make(chan av.Packet, viewerBufferSize)
	p.viewers[viewerID] = viewer{c: ch}
	return viewerID, ch, true
}

// AddViewer registers packets consumer of the stream. Channel is closed when real play stops
func (c *Client) AddViewer(streamID uuid.UUID) (uuid.UUID, chan av.Packet, error) {
	p, ok := c.handles.getPlayByStream(streamID)
	if !ok {
		return uuid.UUID{}, nil, ErrPlayNotFound
	}
	viewerID, ch, ok := p.addViewer()
	if !ok {
		return uuid.UUID{}, nil, ErrPlayNotFound
	}
	return viewerID, ch, nil
}

// RemoveViewer forgets packets consumer of the stream
func (c *Client) RemoveViewer(streamID, viewerID uuid.UUID) {
	p, ok := c.handles.getPlayByStream(streamID)
	if !ok {
		return
	}
	p.Lock()
	delete(p.viewers, viewerID)
	p.Unlock()
}
