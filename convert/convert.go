package convert

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	SCOPE_CONVERT = "convert"

	EVENT_CONVERT_START  = "convert_start"
	EVENT_CONVERT_FEED   = "convert_feed"
	EVENT_CONVERT_FINISH = "convert_finish"
	EVENT_CONVERT_RENAME = "convert_rename"
)

const (
	DefaultFFmpegPath = "ffmpeg"
	DefaultChunkSize  = 8 * 1024
	DefaultRetryDelay = 10 * time.Millisecond
	// Number of chunks the converter could hold before feeding has to wait
	defaultQueueSize = 64
	stderrTailBytes  = 4096
)

var (
	// Default output arguments: H.264 with the index in front of the file
	DefaultArgs = []string{"-vcodec", "libx264", "-crf", "24", "-movflags", "+faststart"}
	// When source file can't be opened
	ErrSourceNotFound = errors.New("Source file can't be opened")
	// When job is not running
	ErrNotConverting = errors.New("Conversion is not running")
)

// ProgressCallback reports bytes of source which have been fed into the converter
type ProgressCallback func(fed, total int64)

// Converter transcodes recorded files with external ffmpeg process fed through stdin
type Converter struct {
	FFmpegPath string
	// Forced input format, e.g. 'dhav'. Empty means probing
	InputFormat string
	// Output arguments placed between input and destination
	Args       []string
	ChunkSize  int
	RetryDelay time.Duration
	Verbose    bool
}

// NewConverter returns converter with default settings
func NewConverter() *Converter {
	args := make([]string, len(DefaultArgs))
	copy(args, DefaultArgs)
	return &Converter{
		FFmpegPath: DefaultFFmpegPath,
		Args:       args,
		ChunkSize:  DefaultChunkSize,
		RetryDelay: DefaultRetryDelay,
	}
}

func (cv *Converter) commandArgs(dst string) []string {
	args := []string{"-y"}
	if cv.InputFormat != "" {
		args = append(args, "-f", cv.InputFormat)
	}
	args = append(args, "-i", "pipe:0")
	args = append(args, cv.Args...)
	return append(args, dst)
}

// tailBuffer keeps the last bytes written to it
type tailBuffer struct {
	sync.Mutex
	buf bytes.Buffer
}

func (tb *tailBuffer) Write(p []byte) (int, error) {
	tb.Lock()
	defer tb.Unlock()
	tb.buf.Write(p)
	if extra := tb.buf.Len() - stderrTailBytes; extra > 0 {
		tb.buf.Next(extra)
	}
	return len(p), nil
}

func (tb *tailBuffer) String() string {
	tb.Lock()
	defer tb.Unlock()
	return strings.TrimSpace(tb.buf.String())
}

// Convert feeds src into the converter chunk by chunk and waits until destination is written
func (cv *Converter) Convert(ctx context.Context, src, dst string, progress ProgressCallback) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(ErrSourceNotFound, "'%s': %s", src, err.Error())
	}
	defer srcFile.Close()
	var total int64
	if st, err := srcFile.Stat(); err == nil {
		total = st.Size()
	}
	if dir := filepath.Dir(dst); dir != "" {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return errors.Wrapf(err, "Can't create directory for '%s'", dst)
		}
	}

	ffmpeg := cv.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = DefaultFFmpegPath
	}
	chunkSize := cv.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	retryDelay := cv.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}

	cmd := exec.CommandContext(ctx, ffmpeg, cv.commandArgs(dst)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "Can't prepare converter input")
	}
	stderr := &tailBuffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "Can't start converter '%s'", ffmpeg)
	}
	log.Info().Str("scope", SCOPE_CONVERT).Str("event", EVENT_CONVERT_START).Str("src", src).Str("dst", dst).Int64("total", total).Strs("args", cmd.Args).Msg("Conversion has been started")

	// Converter input is a bounded queue, chunk waits for free space
	queue := make(chan []byte, defaultQueueSize)
	feedErr := make(chan error, 1)
	go func() {
		var err error
		for chunk := range queue {
			if err != nil {
				continue
			}
			_, err = stdin.Write(chunk)
		}
		if errClose := stdin.Close(); err == nil {
			err = errClose
		}
		feedErr <- err
	}()

	fed := int64(0)
	readErr := cv.feed(ctx, srcFile, chunkSize, retryDelay, queue, func(n int) {
		fed += int64(n)
		if progress != nil {
			progress(fed, total)
		}
		if cv.Verbose {
			log.Info().Str("scope", SCOPE_CONVERT).Str("event", EVENT_CONVERT_FEED).Str("src", src).Int64("fed", fed).Int64("total", total).Msg("Chunk has been fed")
		}
	})
	close(queue)
	errWrite := <-feedErr
	errWait := cmd.Wait()
	switch {
	case ctx.Err() != nil:
		err = errors.Wrap(ctx.Err(), "Conversion has been interrupted")
	case readErr != nil:
		err = readErr
	case errWait != nil:
		err = errors.Wrapf(errWait, "Converter has failed: %s", stderr.String())
	case errWrite != nil:
		err = errors.Wrap(errWrite, "Can't feed converter")
	}
	if err != nil {
		// Partial output is never left behind
		if errRemove := os.Remove(dst); errRemove != nil && !os.IsNotExist(errRemove) {
			log.Warn().Err(errRemove).Str("scope", SCOPE_CONVERT).Str("event", EVENT_CONVERT_FINISH).Str("dst", dst).Msg("Can't remove partial output")
		}
		return err
	}
	log.Info().Str("scope", SCOPE_CONVERT).Str("event", EVENT_CONVERT_FINISH).Str("src", src).Str("dst", dst).Int64("fed", fed).Msg("Convert finished")
	return nil
}

// feed reads source by chunks. Chunk which is rejected by full queue is retried after delay
func (cv *Converter) feed(ctx context.Context, src io.Reader, chunkSize int, retryDelay time.Duration, queue chan<- []byte, fedCallback func(n int)) error {
	for {
		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			chunk := buf[:n]
		retry:
			for {
				select {
				case queue <- chunk:
					break retry
				default:
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(retryDelay):
				}
			}
			fedCallback(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "Can't read source")
		}
	}
}

// Job is an asynchronous conversion
type Job struct {
	Src string
	Dst string

	fed    atomic.Int64
	total  atomic.Int64
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// StartConvert checks the source and starts conversion in background
func (cv *Converter) StartConvert(src, dst string) (*Job, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, errors.Wrapf(ErrSourceNotFound, "'%s': %s", src, err.Error())
	}
	f.Close()
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		Src:    src,
		Dst:    dst,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(job.done)
		job.err = cv.Convert(ctx, src, dst, func(fed, total int64) {
			job.fed.Store(fed)
			job.total.Store(total)
		})
	}()
	return job, nil
}

// StopConvert interrupts conversion and waits for the process to exit
func (job *Job) StopConvert() error {
	select {
	case <-job.done:
		return ErrNotConverting
	default:
	}
	job.cancel()
	<-job.done
	return nil
}

// Wait blocks until conversion ends
func (job *Job) Wait() error {
	<-job.done
	job.cancel()
	return job.err
}

// Done is closed when conversion ends
func (job *Job) Done() <-chan struct{} {
	return job.done
}

// Progress returns fed and total bytes of the source
func (job *Job) Progress() (int64, int64) {
	return job.fed.Load(), job.total.Load()
}
