package netsdk

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/deepch/vdk/av"
	"github.com/deepch/vdk/format/mp4"
	"github.com/deepch/vdk/format/ts"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// recorder writes packets of the real play into local file starting at the first keyframe
type recorder struct {
	fileName string
	file     *os.File
	muxer    av.Muxer
	codecs   []av.CodecData
	verbose  VerboseLevel

	ch      chan av.Packet
	stop    chan bool
	done    chan struct{}
	errOnce sync.Once
	err     error
}

func newMuxer(fileName string, file *os.File) av.Muxer {
	if strings.EqualFold(filepath.Ext(fileName), ".ts") {
		return ts.NewMuxer(file)
	}
	return mp4.NewMuxer(file)
}

func newRecorder(fileName string, codecs []av.CodecData, verbose VerboseLevel) (*recorder, error) {
	if dir := filepath.Dir(fileName); dir != "" {
		if err := ensureDir(dir); err != nil {
			return nil, errors.Wrapf(err, "Can't create directory for '%s'", fileName)
		}
	}
	file, err := os.Create(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't create file '%s'", fileName)
	}
	muxer := newMuxer(fileName, file)
	if err := muxer.WriteHeader(codecs); err != nil {
		file.Close()
		os.Remove(fileName)
		return nil, errors.Wrapf(err, "Can't write header for '%s'", fileName)
	}
	rec := &recorder{
		fileName: fileName,
		file:     file,
		muxer:    muxer,
		codecs:   codecs,
		verbose:  verbose,
		ch:       make(chan av.Packet, viewerBufferSize),
		stop:     make(chan bool, 1),
		done:     make(chan struct{}),
	}
	go rec.run()
	return rec, nil
}

func (rec *recorder) push(pck av.Packet) {
	select {
	case rec.ch <- pck:
	default:
	}
}

func (rec *recorder) setErr(err error) {
	rec.errOnce.Do(func() {
		rec.err = err
	})
}

func (rec *recorder) run() {
	defer close(rec.done)
	videoStreamIdx := int8(0)
	for idx, codec := range rec.codecs {
		if codec.Type().IsVideo() {
			videoStreamIdx = int8(idx)
			break
		}
	}
	start := false
	failed := false
	lastPacketTime := time.Duration(0)
	written := 0
	write := func(pck av.Packet) {
		if failed {
			return
		}
		if pck.Idx == videoStreamIdx && pck.IsKeyFrame {
			start = true
		}
		if !start {
			return
		}
		if pck.Idx == videoStreamIdx && pck.Time <= lastPacketTime && written > 0 {
			return
		}
		if err := rec.muxer.WritePacket(pck); err != nil {
			log.Error().Err(err).Str("scope", SCOPE_RECORD).Str("event", EVENT_RECORD_WRITE).Str("file", rec.fileName).Msg("Can't write packet")
			rec.setErr(errors.Wrap(err, "Can't write packet"))
			failed = true
			return
		}
		if pck.Idx == videoStreamIdx {
			lastPacketTime = pck.Time
		}
		written++
		if rec.verbose > VERBOSE_ADD {
			log.Info().Str("scope", SCOPE_RECORD).Str("event", EVENT_RECORD_WRITE).Str("file", rec.fileName).Bool("is_keyframe", pck.IsKeyFrame).Int("packet_len", len(pck.Data)).Msg("Packet has been written")
		}
	}
	for {
		select {
		case <-rec.stop:
			// Packets queued before stop still belong to the file
		drain:
			for {
				select {
				case pck := <-rec.ch:
					write(pck)
				default:
					break drain
				}
			}
			if err := rec.muxer.WriteTrailer(); err != nil {
				rec.setErr(errors.Wrap(err, "Can't write trailer"))
			}
			if err := rec.file.Close(); err != nil {
				rec.setErr(errors.Wrap(err, "Can't close file"))
			}
			log.Info().Str("scope", SCOPE_RECORD).Str("event", EVENT_RECORD_STOP).Str("file", rec.fileName).Int("packets", written).Msg("Recording has been finished")
			return
		case pck := <-rec.ch:
			write(pck)
		}
	}
}

func (rec *recorder) close() error {
	rec.stop <- true
	<-rec.done
	return rec.err
}

// stopRecording finishes recording if there is one
func (p *realPlay) stopRecording() error {
	p.Lock()
	rec := p.recorder
	p.recorder = nil
	p.Unlock()
	if rec == nil {
		return nil
	}
	return rec.close()
}

// SaveRealData starts recording of the real play into the file. Container is chosen by extension: '.ts' or MP4 otherwise
func (c *Client) SaveRealData(playID PlayID, fileName string) error {
	const op = "SaveRealData"
	if fileName == "" {
		return c.fail(op, ErrCodeIllegalParam, errors.New("empty file name"))
	}
	p, ok := c.handles.getPlay(playID)
	if !ok {
		return c.fail(op, ErrCodeInvalidHandle, ErrPlayNotFound)
	}
	codecs := p.getCodecs()
	if len(codecs) == 0 {
		return c.fail(op, ErrCodeOpenChannel, ErrNoCodecData)
	}
	p.Lock()
	defer p.Unlock()
	if p.recorder != nil {
		return c.fail(op, ErrCodeRecordBusy, errors.Errorf("play %d is already recorded into '%s'", playID, p.recorder.fileName))
	}
	rec, err := newRecorder(fileName, codecs, c.verboseLevel())
	if err != nil {
		return c.fail(op, ErrCodeOpenFile, err)
	}
	p.recorder = rec
	log.Info().Str("scope", SCOPE_RECORD).Str("event", EVENT_RECORD_START).Int64("play_id", int64(playID)).Str("file", fileName).Msg("Recording has been started")
	return nil
}

// StopSaveRealData finishes recording of the real play
func (c *Client) StopSaveRealData(playID PlayID) error {
	const op = "StopSaveRealData"
	p, ok := c.handles.getPlay(playID)
	if !ok {
		return c.fail(op, ErrCodeInvalidHandle, ErrPlayNotFound)
	}
	p.RLock()
	recording := p.recorder != nil
	p.RUnlock()
	if !recording {
		return c.fail(op, ErrCodeIllegalParam, errors.Errorf("play %d is not recorded", playID))
	}
	if err := p.stopRecording(); err != nil {
		return c.fail(op, ErrCodeDownloadWrite, err)
	}
	return nil
}

func ensureDir(dirName string) error {
	err := os.MkdirAll(dirName, 0777)
	if err == nil || os.IsExist(err) {
		return nil
	}
	return err
}
