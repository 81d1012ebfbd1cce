package netsdk

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type posRecorder struct {
	sync.Mutex
	positions []int64
	indices   []int
	done      chan struct{}
}

func newPosRecorder() *posRecorder {
	return &posRecorder{done: make(chan struct{})}
}

func (pr *posRecorder) add(downloaded int64, index int) {
	pr.Lock()
	defer pr.Unlock()
	pr.positions = append(pr.positions, downloaded)
	pr.indices = append(pr.indices, index)
	if downloaded == DownloadPosDone || downloaded == DownloadPosWriteFail {
		close(pr.done)
	}
}

func (pr *posRecorder) wait(t *testing.T) {
	select {
	case <-pr.done:
	case <-time.After(5 * time.Second):
		t.Fatal("download has not been finished")
	}
}

func TestDownloadByRecordFile(t *testing.T) {
	fd := newFakeDevice(t)
	fd.records = generateRecords(1, 100*1024)
	client, loginID := loggedIn(t, fd)
	start, stop := testRange()
	files, err := client.QueryRecordFiles(context.Background(), loginID, 0, RecordTypeAll, start, stop, 0)
	require.NoError(t, err)
	require.Len(t, files, 1)

	savedFile := filepath.Join(t.TempDir(), "sub", "test.dav")
	pr := newPosRecorder()
	downloadID, err := client.DownloadByRecordFile(context.Background(), loginID, files[0], savedFile, func(id DownloadID, total, downloaded int64) {
		assert.Equal(t, int64(100*1024), total)
		pr.add(downloaded, 0)
	}, nil)
	require.NoError(t, err)
	pr.wait(t)

	pr.Lock()
	assert.Equal(t, DownloadPosDone, pr.positions[len(pr.positions)-1])
	assert.Equal(t, int64(100*1024), pr.positions[len(pr.positions)-2])
	pr.Unlock()

	data, err := os.ReadFile(savedFile)
	require.NoError(t, err)
	assert.Equal(t, fd.records[0].data, data)

	total, downloaded, done, err := client.DownloadPos(downloadID)
	require.NoError(t, err)
	assert.Equal(t, int64(100*1024), total)
	assert.Equal(t, total, downloaded)
	assert.True(t, done)

	status, err := client.DownloadStatus(downloadID)
	require.NoError(t, err)
	assert.Equal(t, 100, status.Percent)
	assert.Equal(t, savedFile, status.FileName)
	assert.Empty(t, status.Error)

	require.NoError(t, client.StopDownload(downloadID))
	_, _, _, err = client.DownloadPos(downloadID)
	assert.Equal(t, ErrCodeInvalidHandle, CodeOf(err))
}

func TestDownloadByRecordFileDataCallback(t *testing.T) {
	fd := newFakeDevice(t)
	fd.records = generateRecords(1, 70*1024)
	client, loginID := loggedIn(t, fd)

	var mu sync.Mutex
	received := bytes.Buffer{}
	pr := newPosRecorder()
	info := RecordFileInfo{FileName: fd.records[0].path}
	_, err := client.DownloadByRecordFile(context.Background(), loginID, info, "", func(id DownloadID, total, downloaded int64) {
		pr.add(downloaded, 0)
	}, func(id DownloadID, dataType DataType, buf []byte) {
		assert.Equal(t, DataTypeRaw, dataType)
		mu.Lock()
		received.Write(buf)
		mu.Unlock()
	})
	require.NoError(t, err)
	pr.wait(t)
	mu.Lock()
	assert.Equal(t, fd.records[0].data, received.Bytes())
	mu.Unlock()
}

func TestDownloadByRecordFileErrors(t *testing.T) {
	fd := newFakeDevice(t)
	client, loginID := loggedIn(t, fd)

	_, err := client.DownloadByRecordFile(context.Background(), loginID, RecordFileInfo{FileName: "/a.dav"}, "", nil, nil)
	assert.Equal(t, ErrCodeIllegalParam, CodeOf(err))
	_, err = client.DownloadByRecordFile(context.Background(), loginID, RecordFileInfo{}, "a.dav", nil, nil)
	assert.Equal(t, ErrCodeIllegalParam, CodeOf(err))
	_, err = client.DownloadByRecordFile(context.Background(), loginID+100, RecordFileInfo{FileName: "/a.dav"}, "a.dav", nil, nil)
	assert.Equal(t, ErrCodeInvalidHandle, CodeOf(err))
	_, err = client.DownloadByRecordFile(context.Background(), loginID, RecordFileInfo{FileName: "/missing.dav"}, filepath.Join(t.TempDir(), "a.dav"), nil, nil)
	assert.Equal(t, ErrCodeNoRecordFound, CodeOf(err))
}

func TestDownloadByTime(t *testing.T) {
	fd := newFakeDevice(t)
	fd.records = generateRecords(2, 64*1024)
	client, loginID := loggedIn(t, fd)
	start, stop := testRange()

	savedFile := filepath.Join(t.TempDir(), "test.dav")
	pr := newPosRecorder()
	_, err := client.DownloadByTime(context.Background(), loginID, 0, RecordTypeAll, start, stop, savedFile, func(id DownloadID, total, downloaded int64, index int, info RecordFileInfo) {
		assert.Equal(t, int64(128*1024), total)
		assert.Equal(t, fd.records[index].path, info.FileName)
		pr.add(downloaded, index)
	}, nil)
	require.NoError(t, err)
	pr.wait(t)

	pr.Lock()
	assert.Equal(t, 0, pr.indices[0])
	assert.Equal(t, 1, pr.indices[len(pr.indices)-1])
	assert.Equal(t, DownloadPosDone, pr.positions[len(pr.positions)-1])
	pr.Unlock()

	data, err := os.ReadFile(savedFile)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, fd.records[0].data...), fd.records[1].data...), data)
	assert.Equal(t, 1, fd.requested("/cgi-bin/loadfile.cgi?action=startLoad&channel=1&startTime=2024-03-01%2000%3A00%3A00"))
}

func TestDownloadByTimeErrors(t *testing.T) {
	fd := newFakeDevice(t)
	fd.noRecords = true
	client, loginID := loggedIn(t, fd)
	start, stop := testRange()

	_, err := client.DownloadByTime(context.Background(), loginID, 0, RecordTypeAll, start, stop, filepath.Join(t.TempDir(), "a.dav"), nil, nil)
	assert.Equal(t, ErrCodeNoRecordFound, CodeOf(err))
	_, err = client.DownloadByTime(context.Background(), loginID, 0, RecordTypeAll, stop, start, "a.dav", nil, nil)
	assert.Equal(t, ErrCodeIllegalParam, CodeOf(err))
	_, err = client.DownloadByTime(context.Background(), loginID, 0, RecordTypeAll, start, stop, "", nil, nil)
	assert.Equal(t, ErrCodeIllegalParam, CodeOf(err))
}

func TestStopDownload(t *testing.T) {
	fd := newFakeDevice(t)
	fd.records = generateRecords(1, 256*1024)
	fd.holdDownload = make(chan struct{})
	t.Cleanup(func() { close(fd.holdDownload) })
	client, loginID := loggedIn(t, fd)

	pr := newPosRecorder()
	downloadID, err := client.DownloadByRecordFile(context.Background(), loginID, RecordFileInfo{FileName: fd.records[0].path, Size: 256 * 1024}, filepath.Join(t.TempDir(), "a.dav"), func(id DownloadID, total, downloaded int64) {
		pr.add(downloaded, 0)
	}, nil)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		_, downloaded, _, err := client.DownloadPos(downloadID)
		return err == nil && downloaded > 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, client.StopDownload(downloadID))
	pr.Lock()
	assert.NotContains(t, pr.positions, DownloadPosDone)
	pr.Unlock()
	assert.Equal(t, ErrCodeInvalidHandle, CodeOf(client.StopDownload(downloadID)))
}

func TestFileIndex(t *testing.T) {
	bounds := fileBounds([]RecordFileInfo{{Size: 10}, {Size: 20}, {Size: 5}})
	assert.Equal(t, []int64{0, 10, 30, 35}, bounds)
	assert.Equal(t, 0, fileIndex(bounds, 0))
	assert.Equal(t, 0, fileIndex(bounds, 9))
	assert.Equal(t, 1, fileIndex(bounds, 10))
	assert.Equal(t, 2, fileIndex(bounds, 35))
	assert.Equal(t, 2, fileIndex(bounds, DownloadPosDone))
}

func TestDownloadPercent(t *testing.T) {
	assert.Equal(t, 0, DownloadPercent(0, 10))
	assert.Equal(t, 0, DownloadPercent(100, 0))
	assert.Equal(t, 50, DownloadPercent(100, 50))
	assert.Equal(t, 100, DownloadPercent(100, 120))
}
