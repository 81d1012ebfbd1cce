package netsdk

import (
	"net/http"
	"time"

	"github.com/deepch/vdk/format/mp4f"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	keyFramesTimeout = 10 * time.Second
	deadlineTimeout  = 10 * time.Second
	controlTimeout   = 10 * time.Second
)

// wshandler is a websocket handler for user connection: it sends MSE meta, init segment and then fragments of the stream
func wshandler(wsUpgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request, streamIDSTR string, client *Client, verboseLevel VerboseLevel) {
	logger := log.With().Str("scope", SCOPE_WS_HANDLER).Str("remote_addr", r.RemoteAddr).Str("stream_id", streamIDSTR).Logger()
	if verboseLevel > VERBOSE_NONE {
		logger.Info().Str("event", EVENT_WS_UPGRADER).Msg("MSE Connected")
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Str("event", EVENT_WS_UPGRADER).Msg("Can't call websocket upgrader")
		return
	}
	defer func() {
		if verboseLevel > VERBOSE_NONE {
			logger.Info().Str("event", EVENT_WS_REQUEST).Msg("Connection has been closed")
		}
		conn.Close()
	}()

	streamID, err := uuid.Parse(streamIDSTR)
	if err != nil {
		failWS(conn, logger, err, "Not valid UUID")
		return
	}
	if !client.StreamHasOutput(streamID, STREAM_TYPE_MSE) {
		failWS(conn, logger, ErrPlayNotFound, "Stream has no MSE output")
		return
	}
	if err = conn.SetWriteDeadline(time.Now().Add(deadlineTimeout)); err != nil {
		failWS(conn, logger, err, "Can't set deadline")
		return
	}
	viewerID, ch, err := client.AddViewer(streamID)
	if err != nil {
		failWS(conn, logger, err, "Can't add client to the queue")
		return
	}
	defer client.RemoveViewer(streamID, viewerID)
	logger = logger.With().Str("client_id", viewerID.String()).Logger()

	codecData, err := client.Codecs(streamID)
	if err != nil {
		failWS(conn, logger, err, "Can't extract codec for stream")
		return
	}
	muxer := mp4f.NewMuxer(nil)
	if err = muxer.WriteHeader(codecData); err != nil {
		failWS(conn, logger, err, "Can't write codec information to the header")
		return
	}
	meta, init := muxer.GetInit(codecData)
	if err = conn.WriteMessage(websocket.BinaryMessage, append([]byte{9}, meta...)); err != nil {
		failWS(conn, logger, err, "Can't write meta information")
		return
	}
	if err = conn.WriteMessage(websocket.BinaryMessage, init); err != nil {
		failWS(conn, logger, err, "Can't write initialization information")
		return
	}
	if verboseLevel > VERBOSE_SIMPLE {
		logger.Info().Str("event", EVENT_WS_REQUEST).Str("meta", meta).Int("init_len", len(init)).Msg("Send initialization message")
	}

	quitCh := make(chan bool, 1)
	rxPingCh := make(chan bool)
	go func(q, p chan bool) {
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				q <- true
				if verboseLevel > VERBOSE_SIMPLE {
					logger.Info().Err(err).Str("event", EVENT_WS_REQUEST).Msg("Can't read message")
				}
				return
			}
			if msgType == websocket.TextMessage && string(data) == "ping" {
				select {
				case p <- true:
				default:
					// dropped
				}
			}
		}
	}(quitCh, rxPingCh)

	var start bool
	noKeyFrames := time.NewTimer(keyFramesTimeout)
	defer noKeyFrames.Stop()
	for {
		select {
		case <-noKeyFrames.C:
			failWS(conn, logger, ErrStreamHasNoVideo, "No keyframes has been met")
			return
		case <-quitCh:
			return
		case <-rxPingCh:
			if err := conn.WriteMessage(websocket.TextMessage, []byte("pong")); err != nil {
				failWS(conn, logger, err, "Can't write PONG message")
				return
			}
		case pck, ok := <-ch:
			if !ok {
				failWS(conn, logger, ErrStreamDisconnected, "Real play has been stopped")
				return
			}
			if pck.IsKeyFrame {
				noKeyFrames.Reset(keyFramesTimeout)
				start = true
			}
			if !start {
				continue
			}
			ready, buf, err := muxer.WritePacket(pck, false)
			if err != nil {
				failWS(conn, logger, err, "Can't write packet to the muxer")
				return
			}
			if !ready {
				continue
			}
			if err = conn.SetWriteDeadline(time.Now().Add(deadlineTimeout)); err != nil {
				failWS(conn, logger, err, "Can't set new deadline")
				return
			}
			if err = conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
				failWS(conn, logger, err, "Can't write buffered message")
				return
			}
		}
	}
}

func failWS(conn *websocket.Conn, logger zerolog.Logger, err error, reason string) {
	logger.Error().Err(err).Str("event", EVENT_WS_REQUEST).Msg(reason)
	closeWSwithError(conn, websocket.CloseInternalServerErr, reason)
}

func prepareError(code int, message string) []byte {
	buf := make([]byte, 0, 2+len(message))
	buf = append(buf, uint8(code>>8), uint8(code&0xff))
	buf = append(buf, []byte(message)...)
	return buf
}

func closeWSwithError(conn *websocket.Conn, code int, message string) {
	conn.WriteControl(websocket.CloseMessage, prepareError(code, message), time.Now().Add(controlTimeout))
}
