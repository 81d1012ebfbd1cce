package netsdk

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/LdDl/go-netsdk/internal/hlserror"
	"github.com/deepch/vdk/av"
	"github.com/deepch/vdk/format/ts"
	"github.com/grafov/m3u8"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// HLSParam is a set of HLS output settings
type HLSParam struct {
	// Directory for playlists and segments
	Directory string
	// Minimal segment length. Segments are cut on keyframes
	MsPerSegment int64
	// Number of segments in the playlist
	WindowSize uint
	// Capacity of the playlist
	Capacity uint
}

func defaultHLSParam() HLSParam {
	return HLSParam{
		Directory:    "./hls",
		MsPerSegment: 10000,
		WindowSize:   5,
		Capacity:     10,
	}
}

// SetHLSParam updates HLS output settings for real plays started afterwards. Zero fields keep current values
func (c *Client) SetHLSParam(param HLSParam) {
	c.Lock()
	defer c.Unlock()
	if param.Directory != "" {
		c.hlsParam.Directory = param.Directory
	}
	if param.MsPerSegment > 0 {
		c.hlsParam.MsPerSegment = param.MsPerSegment
	}
	if param.WindowSize > 0 {
		c.hlsParam.WindowSize = param.WindowSize
	}
	if param.Capacity > 0 {
		c.hlsParam.Capacity = param.Capacity
	}
	if c.hlsParam.Capacity < c.hlsParam.WindowSize {
		c.hlsParam.Capacity = c.hlsParam.WindowSize
	}
}

// HLSParam returns current HLS output settings
func (c *Client) HLSParam() HLSParam {
	c.RLock()
	defer c.RUnlock()
	return c.hlsParam
}

// PlaylistName returns name of the HLS playlist of the stream
func PlaylistName(p PlayInfo) string {
	return fmt.Sprintf("%s.m3u8", p.StreamID)
}

func (c *Client) startHlsCast(p *realPlay, stopCast chan bool) {
	param := c.HLSParam()
	hlserror.Reset(p.streamID)
	go func() {
		err := startHls(p, param, stopCast)
		if err != nil {
			hlserror.SetError(p.streamID, http.StatusInternalServerError, err)
			log.Error().Err(err).Str("scope", SCOPE_HLS).Str("event", EVENT_HLS_START_CAST).Str("stream_id", p.streamID.String()).Msg("Error on HLS cast start")
		}
	}()
}

func startHls(p *realPlay, param HLSParam, stopCast chan bool) error {
	streamID := p.streamID
	err := ensureDir(param.Directory)
	if err != nil {
		return errors.Wrap(err, "Can't create directory for HLS temporary files")
	}

	playlistFileName := filepath.Join(param.Directory, fmt.Sprintf("%s.m3u8", streamID))
	log.Info().Str("scope", SCOPE_HLS).Str("event", EVENT_HLS_START_CAST).Str("stream_id", streamID.String()).Str("playlist", playlistFileName).Msg("Need to start HLS")
	playlist, err := m3u8.NewMediaPlaylist(param.WindowSize, param.Capacity)
	if err != nil {
		return errors.Wrap(err, "Can't create new mediaplayer list")
	}

	isConnected := true
	segmentNumber := 0
	lastPacketTime := time.Duration(0)
	lastKeyFrame := av.Packet{}

	for isConnected {
		segmentName := fmt.Sprintf("%s%04d.ts", streamID, segmentNumber)
		segmentPath := filepath.Join(param.Directory, segmentName)
		outFile, err := os.Create(segmentPath)
		if err != nil {
			return errors.Wrapf(err, "Can't create TS-segment for stream %s", streamID)
		}
		tsMuxer := ts.NewMuxer(outFile)

		codecData := p.getCodecs()
		if len(codecData) == 0 {
			outFile.Close()
			return errors.Wrap(ErrNoCodecData, streamID.String())
		}
		if err := tsMuxer.WriteHeader(codecData); err != nil {
			outFile.Close()
			return errors.Wrapf(err, "Can't write header for TS muxer for stream %s", streamID)
		}

		videoStreamIdx := int8(0)
		for idx, codec := range codecData {
			if codec.Type().IsVideo() {
				videoStreamIdx = int8(idx)
				break
			}
		}

		segmentLength := time.Duration(0)
		packetLength := time.Duration(0)
		start := false

		if lastKeyFrame.IsKeyFrame {
			start = true
			if err = tsMuxer.WritePacket(lastKeyFrame); err != nil {
				outFile.Close()
				return errors.Wrapf(err, "Can't write packet for TS muxer for stream %s (1)", streamID)
			}
			packetLength = lastKeyFrame.Time - lastPacketTime
			lastPacketTime = lastKeyFrame.Time
			segmentLength += packetLength
		}

	segmentLoop:
		for {
			select {
			case <-stopCast:
				isConnected = false
				break segmentLoop
			case pck := <-p.hlsChanel:
				if pck.Idx == videoStreamIdx && pck.IsKeyFrame {
					start = true
					if segmentLength.Milliseconds() >= param.MsPerSegment {
						lastKeyFrame = pck
						break segmentLoop
					}
				}
				if !start {
					continue
				}
				if (pck.Idx == videoStreamIdx && pck.Time > lastPacketTime) || pck.Idx != videoStreamIdx {
					if err = tsMuxer.WritePacket(pck); err != nil {
						outFile.Close()
						return errors.Wrapf(err, "Can't write packet for TS muxer for stream %s (2)", streamID)
					}
					if pck.Idx == videoStreamIdx {
						packetLength = pck.Time - lastPacketTime
						lastPacketTime = pck.Time
						segmentLength += packetLength
					}
				}
			}
		}

		if err := tsMuxer.WriteTrailer(); err != nil {
			log.Error().Err(err).Str("scope", SCOPE_HLS).Str("event", EVENT_HLS_PLAYLIST).Str("stream_id", streamID.String()).Str("segment", segmentName).Msg("Can't write trailing data for TS muxer")
		}
		if err := outFile.Close(); err != nil {
			log.Error().Err(err).Str("scope", SCOPE_HLS).Str("event", EVENT_HLS_PLAYLIST).Str("stream_id", streamID.String()).Str("segment", segmentName).Msg("Can't close segment")
		}

		playlist.Slide(segmentName, segmentLength.Seconds(), "")
		if err := os.WriteFile(playlistFileName, playlist.Encode().Bytes(), 0644); err != nil {
			log.Error().Err(err).Str("scope", SCOPE_HLS).Str("event", EVENT_HLS_PLAYLIST).Str("stream_id", streamID.String()).Str("playlist", playlistFileName).Msg("Can't write playlist")
		}

		if err := removeOutdatedSegments(param.Directory, streamID.String(), playlist); err != nil {
			log.Error().Err(err).Str("scope", SCOPE_HLS).Str("event", EVENT_HLS_CLEANUP).Str("stream_id", streamID.String()).Msg("Can't remove outdated segments")
		}
		segmentNumber++
	}

	filesToRemove := make([]string, 0, len(playlist.Segments)+1)
	for _, segment := range playlist.Segments {
		if segment != nil {
			filesToRemove = append(filesToRemove, segment.URI)
		}
	}
	_, fileName := filepath.Split(playlistFileName)
	filesToRemove = append(filesToRemove, fileName)

	// Viewers could still fetch the tail of the playlist
	go func(delay time.Duration, filesToRemove []string) {
		time.Sleep(delay)
		for _, file := range filesToRemove {
			if err := os.Remove(filepath.Join(param.Directory, file)); err != nil && !os.IsNotExist(err) {
				log.Error().Err(err).Str("scope", SCOPE_HLS).Str("event", EVENT_HLS_CLEANUP).Str("file", file).Msg("Can't call defered file remove")
			}
		}
	}(time.Duration(param.MsPerSegment*int64(playlist.Count()))*time.Millisecond, filesToRemove)
	return nil
}

// removeOutdatedSegments removes stream's segments which are not in the playlist anymore
func removeOutdatedSegments(dir, prefix string, playlist *m3u8.MediaPlaylist) error {
	currentSegments := make(map[string]struct{}, len(playlist.Segments))
	for _, segment := range playlist.Segments {
		if segment != nil {
			currentSegments[segment.URI] = struct{}{}
		}
	}
	segmentFiles, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf("%s*.ts", prefix)))
	if err != nil {
		return errors.Wrapf(err, "Can't find glob for '%s'", prefix)
	}
	for _, segmentFile := range segmentFiles {
		_, fileName := filepath.Split(segmentFile)
		if _, ok := currentSegments[fileName]; !ok {
			if err := os.Remove(segmentFile); err != nil {
				log.Error().Err(err).Str("scope", SCOPE_HLS).Str("event", EVENT_HLS_CLEANUP).Str("segment", segmentFile).Msg("Can't remove segment")
			}
		}
	}
	return nil
}
