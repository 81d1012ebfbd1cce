package netsdk

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// Position callback value when download has finished
	DownloadPosDone = int64(-1)
	// Position callback value when received data can't be written to the file
	DownloadPosWriteFail = int64(-2)

	downloadChunkSize = 32 * 1024
)

// DownloadPosCallback reports progress in bytes. See DownloadPosDone and DownloadPosWriteFail for special values
type DownloadPosCallback func(downloadID DownloadID, total, downloaded int64)

// TimeDownloadPosCallback reports progress of download by time. index is the record file being downloaded
type TimeDownloadPosCallback func(downloadID DownloadID, total, downloaded int64, index int, info RecordFileInfo)

// DataCallback receives downloaded data as it comes
type DataCallback func(downloadID DownloadID, dataType DataType, buf []byte)

// download is a single transfer of device's records
type download struct {
	id       DownloadID
	loginID  LoginID
	fileName string
	total    int64

	downloaded atomic.Int64
	done       atomic.Bool
	mu         sync.Mutex
	err        error

	cancel   context.CancelFunc
	finished chan struct{}
}

func (d *download) setErr(err error) {
	d.mu.Lock()
	if d.err == nil {
		d.err = err
	}
	d.mu.Unlock()
}

func (d *download) getErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// DownloadStatus is a snapshot of the download state
type DownloadStatus struct {
	DownloadID DownloadID `json:"download_id"`
	LoginID    LoginID    `json:"login_id"`
	FileName   string     `json:"file_name"`
	Total      int64      `json:"total"`
	Downloaded int64      `json:"downloaded"`
	Percent    int        `json:"percent"`
	Done       bool       `json:"done"`
	Error      string     `json:"error,omitempty"`
}

// DownloadPercent returns progress in percents. Unknown total gives zero
func DownloadPercent(total, downloaded int64) int {
	if total <= 0 || downloaded <= 0 {
		return 0
	}
	if downloaded >= total {
		return 100
	}
	return int(downloaded * 100 / total)
}

// DownloadByRecordFile downloads record file found by FindNextFile.
// At least one of savedFile and dataCallback must be provided
func (c *Client) DownloadByRecordFile(ctx context.Context, loginID LoginID, info RecordFileInfo, savedFile string, posCallback DownloadPosCallback, dataCallback DataCallback) (DownloadID, error) {
	const op = "DownloadByRecordFile"
	if err := c.ensureInit(op); err != nil {
		return 0, err
	}
	if savedFile == "" && dataCallback == nil {
		return 0, c.fail(op, ErrCodeIllegalParam, errors.New("neither file nor data callback has been provided"))
	}
	if info.FileName == "" {
		return 0, c.fail(op, ErrCodeIllegalParam, errors.New("empty record file name"))
	}
	s, ok := c.handles.getSession(loginID)
	if !ok {
		return 0, c.fail(op, ErrCodeInvalidHandle, ErrSessionNotFound)
	}
	var progress func(d *download, downloaded int64)
	if posCallback != nil {
		progress = func(d *download, downloaded int64) {
			posCallback(d.id, d.total, downloaded)
		}
	}
	return c.startDownload(ctx, op, s, "/cgi-bin/RPC_Loadfile"+info.FileName, savedFile, info.Size, progress, dataCallback)
}

// DownloadByTime downloads everything recorded on the channel in the range.
// At least one of savedFile and dataCallback must be provided
func (c *Client) DownloadByTime(ctx context.Context, loginID LoginID, channel int, fileType RecordFileType, start, stop NetTime, savedFile string, posCallback TimeDownloadPosCallback, dataCallback DataCallback) (DownloadID, error) {
	const op = "DownloadByTime"
	if err := c.ensureInit(op); err != nil {
		return 0, err
	}
	if savedFile == "" && dataCallback == nil {
		return 0, c.fail(op, ErrCodeIllegalParam, errors.New("neither file nor data callback has been provided"))
	}
	if err := validateTimeRange(start, stop); err != nil {
		return 0, c.fail(op, ErrCodeIllegalParam, err)
	}
	s, ok := c.handles.getSession(loginID)
	if !ok {
		return 0, c.fail(op, ErrCodeInvalidHandle, ErrSessionNotFound)
	}
	files, err := c.QueryRecordFiles(ctx, loginID, channel, fileType, start, stop, 0)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, c.fail(op, ErrCodeNoRecordFound, errors.Errorf("no records on channel %d in [%s; %s]", channel, start, stop))
	}
	bounds := fileBounds(files)
	total := bounds[len(bounds)-1]

	var progress func(d *download, downloaded int64)
	if posCallback != nil {
		progress = func(d *download, downloaded int64) {
			index := fileIndex(bounds, downloaded)
			posCallback(d.id, d.total, downloaded, index, files[index])
		}
	}
	path := fmt.Sprintf("/cgi-bin/loadfile.cgi?action=startLoad&channel=%d&startTime=%s&endTime=%s&subtype=%d",
		channel+1, cgiEscape(start.cgiString()), cgiEscape(stop.cgiString()), s.getRecordStreamType().subtype())
	return c.startDownload(ctx, op, s, path, savedFile, total, progress, dataCallback)
}

// fileBounds returns cumulative sizes: bounds[i] is the offset where file i starts, the last one is the total
func fileBounds(files []RecordFileInfo) []int64 {
	bounds := make([]int64, len(files)+1)
	for i, f := range files {
		bounds[i+1] = bounds[i] + f.Size
	}
	return bounds
}

// fileIndex returns index of the file containing the offset. Special positions point to the last file
func fileIndex(bounds []int64, downloaded int64) int {
	last := len(bounds) - 2
	if downloaded < 0 {
		return last
	}
	for i := 0; i < last; i++ {
		if downloaded < bounds[i+1] {
			return i
		}
	}
	return last
}

func (c *Client) startDownload(ctx context.Context, op string, s *session, path, savedFile string, total int64, progress func(d *download, downloaded int64), dataCallback DataCallback) (DownloadID, error) {
	dlCtx, cancel := context.WithCancel(context.Background())
	stopOpen := context.AfterFunc(ctx, cancel)
	resp, err := s.http.open(dlCtx, path)
	stopOpen()
	if err != nil {
		cancel()
		code := classifyError(err, false)
		if code == ErrCodeNotSupported {
			code = ErrCodeNoRecordFound
		}
		return 0, c.fail(op, code, err)
	}
	if total <= 0 && resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	var file *os.File
	if savedFile != "" {
		if dir := filepath.Dir(savedFile); dir != "" {
			if err := ensureDir(dir); err != nil {
				resp.Body.Close()
				cancel()
				return 0, c.fail(op, ErrCodeOpenFile, err)
			}
		}
		file, err = os.Create(savedFile)
		if err != nil {
			resp.Body.Close()
			cancel()
			return 0, c.fail(op, ErrCodeOpenFile, errors.Wrapf(err, "Can't create file '%s'", savedFile))
		}
	}

	d := &download{
		id:       DownloadID(c.nextHandle()),
		loginID:  s.id,
		fileName: savedFile,
		total:    total,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
	c.handles.addDownload(d)
	log.Info().Str("scope", SCOPE_DOWNLOAD).Str("event", EVENT_DOWNLOAD_START).Int64("login_id", int64(s.id)).Int64("download_id", int64(d.id)).Str("path", path).Str("file", savedFile).Int64("total", total).Msg("Download has been started")
	verbose := c.verboseLevel()
	go func() {
		defer close(d.finished)
		defer resp.Body.Close()
		err := d.run(dlCtx, resp.Body, file, progress, dataCallback, verbose)
		d.done.Store(true)
		if err != nil {
			d.setErr(err)
			if dlCtx.Err() != nil {
				log.Info().Str("scope", SCOPE_DOWNLOAD).Str("event", EVENT_DOWNLOAD_STOP).Int64("download_id", int64(d.id)).Int64("downloaded", d.downloaded.Load()).Msg("Download has been interrupted")
				return
			}
			log.Error().Err(err).Str("scope", SCOPE_DOWNLOAD).Str("event", EVENT_DOWNLOAD_FAIL).Int64("download_id", int64(d.id)).Int64("downloaded", d.downloaded.Load()).Msg("Download has failed")
			return
		}
		log.Info().Str("scope", SCOPE_DOWNLOAD).Str("event", EVENT_DOWNLOAD_DONE).Int64("download_id", int64(d.id)).Int64("downloaded", d.downloaded.Load()).Msg("Download has been finished")
		if progress != nil {
			progress(d, DownloadPosDone)
		}
	}()
	return d.id, nil
}

func (d *download) run(ctx context.Context, body io.Reader, file *os.File, progress func(d *download, downloaded int64), dataCallback DataCallback, verbose VerboseLevel) error {
	if file != nil {
		defer file.Close()
	}
	buf := make([]byte, downloadChunkSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if file != nil {
				if _, err := file.Write(buf[:n]); err != nil {
					if progress != nil {
						progress(d, DownloadPosWriteFail)
					}
					return newSDKError("write", ErrCodeDownloadWrite, errors.Wrapf(err, "Can't write to '%s'", file.Name()))
				}
			}
			if dataCallback != nil {
				dataCallback(d.id, DataTypeRaw, buf[:n])
			}
			downloaded := d.downloaded.Add(int64(n))
			if progress != nil {
				progress(d, downloaded)
			}
			if verbose > VERBOSE_ADD {
				log.Info().Str("scope", SCOPE_DOWNLOAD).Str("event", EVENT_DOWNLOAD_PROGRESS).Int64("download_id", int64(d.id)).Int64("downloaded", downloaded).Int64("total", d.total).Msg("Chunk has been received")
			}
		}
		if readErr == io.EOF {
			if file != nil {
				if err := file.Sync(); err != nil {
					return newSDKError("write", ErrCodeDownloadWrite, errors.Wrapf(err, "Can't flush '%s'", file.Name()))
				}
			}
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return newSDKError("read", ErrCodeDownloadStopped, ctx.Err())
			}
			return newSDKError("read", ErrCodeNetwork, readErr)
		}
	}
}

// DownloadPos returns total size, downloaded bytes and whether download is over
func (c *Client) DownloadPos(downloadID DownloadID) (int64, int64, bool, error) {
	d, ok := c.handles.getDownload(downloadID)
	if !ok {
		return 0, 0, false, c.fail("DownloadPos", ErrCodeInvalidHandle, ErrDownloadNotFound)
	}
	return d.total, d.downloaded.Load(), d.done.Load(), nil
}

// DownloadStatus returns state of the download
func (c *Client) DownloadStatus(downloadID DownloadID) (DownloadStatus, error) {
	d, ok := c.handles.getDownload(downloadID)
	if !ok {
		return DownloadStatus{}, c.fail("DownloadStatus", ErrCodeInvalidHandle, ErrDownloadNotFound)
	}
	status := DownloadStatus{
		DownloadID: d.id,
		LoginID:    d.loginID,
		FileName:   d.fileName,
		Total:      d.total,
		Downloaded: d.downloaded.Load(),
		Done:       d.done.Load(),
	}
	status.Percent = DownloadPercent(status.Total, status.Downloaded)
	if status.Done {
		if err := d.getErr(); err != nil {
			status.Error = err.Error()
		} else {
			status.Percent = 100
		}
	}
	return status, nil
}

// StopDownload interrupts download (or forgets finished one) and releases the handle
func (c *Client) StopDownload(downloadID DownloadID) error {
	d, ok := c.handles.deleteDownload(downloadID)
	if !ok {
		return c.fail("StopDownload", ErrCodeInvalidHandle, ErrDownloadNotFound)
	}
	d.cancel()
	<-d.finished
	log.Info().Str("scope", SCOPE_DOWNLOAD).Str("event", EVENT_DOWNLOAD_STOP).Int64("download_id", int64(downloadID)).Int64("downloaded", d.downloaded.Load()).Msg("Download has been stopped")
	return nil
}
