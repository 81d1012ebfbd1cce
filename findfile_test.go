package netsdk

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRange() (NetTime, NetTime) {
	return NetTime{Year: 2024, Month: 3, Day: 1}, NetTime{Year: 2024, Month: 3, Day: 1, Hour: 23, Minute: 59, Second: 59}
}

func generateRecords(n, size int) []fakeRecord {
	records := make([]fakeRecord, 0, n)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local)
	for i := 0; i < n; i++ {
		start := base.Add(time.Duration(i) * time.Minute)
		data := make([]byte, size)
		for j := range data {
			data[j] = byte(i + j)
		}
		records = append(records, fakeRecord{
			path:  fmt.Sprintf("/mnt/dvr/2024-03-01/001/dav/%04d.dav", i),
			start: start.Format(cgiTimeLayout),
			end:   start.Add(time.Minute).Format(cgiTimeLayout),
			data:  data,
		})
	}
	return records
}

func TestQueryRecordFiles(t *testing.T) {
	fd := newFakeDevice(t)
	fd.records = generateRecords(3, 10)
	client, loginID := loggedIn(t, fd)
	start, stop := testRange()

	files, err := client.QueryRecordFiles(context.Background(), loginID, 0, RecordTypeAll, start, stop, 0)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, RecordFileInfo{
		Channel:   0,
		FileName:  "/mnt/dvr/2024-03-01/001/dav/0001.dav",
		Size:      10,
		StartTime: NetTime{Year: 2024, Month: 3, Day: 1, Minute: 1},
		EndTime:   NetTime{Year: 2024, Month: 3, Day: 1, Minute: 2},
		DriveNo:   2,
		Stream:    "Main",
		Flags:     []string{"Timing"},
		Events:    []string{},
	}, files[1])
	assert.Equal(t, 1, fd.destroyed)
}

func TestQueryRecordFilesPaging(t *testing.T) {
	fd := newFakeDevice(t)
	fd.records = generateRecords(250, 1)
	client, loginID := loggedIn(t, fd)
	start, stop := testRange()

	files, err := client.QueryRecordFiles(context.Background(), loginID, 0, RecordTypeAll, start, stop, 0)
	require.NoError(t, err)
	assert.Len(t, files, 250)
	assert.Equal(t, "/mnt/dvr/2024-03-01/001/dav/0249.dav", files[249].FileName)
	assert.Equal(t, 3, fd.requested("/cgi-bin/mediaFileFind.cgi?action=findNextFile"))

	files, err = client.QueryRecordFiles(context.Background(), loginID, 0, RecordTypeAll, start, stop, 120)
	require.NoError(t, err)
	assert.Len(t, files, 120)
}

func TestQueryRecordFilesNothingFound(t *testing.T) {
	fd := newFakeDevice(t)
	fd.noRecords = true
	client, loginID := loggedIn(t, fd)
	start, stop := testRange()

	files, err := client.QueryRecordFiles(context.Background(), loginID, 0, RecordTypeAll, start, stop, 0)
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = client.FindFile(context.Background(), loginID, 0, RecordTypeAll, start, stop, 0)
	assert.Equal(t, ErrCodeNoRecordFound, CodeOf(err))
	assert.Equal(t, 2, fd.destroyed)
}

func TestFindFileHandles(t *testing.T) {
	fd := newFakeDevice(t)
	fd.records = generateRecords(2, 1)
	client, loginID := loggedIn(t, fd)
	start, stop := testRange()

	findID, err := client.FindFile(context.Background(), loginID, 0, RecordTypeTiming, start, stop, time.Second)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, result, err := client.FindNextFile(context.Background(), findID)
		require.NoError(t, err)
		assert.Equal(t, FindResultFound, result)
	}
	_, result, err := client.FindNextFile(context.Background(), findID)
	require.NoError(t, err)
	assert.Equal(t, FindResultDone, result)

	require.NoError(t, client.FindClose(findID))
	assert.Equal(t, 1, fd.destroyed)
	assert.Equal(t, ErrCodeInvalidHandle, CodeOf(client.FindClose(findID)))
	_, _, err = client.FindNextFile(context.Background(), findID)
	assert.Equal(t, ErrCodeInvalidHandle, CodeOf(err))
}

func TestFindFileIllegalParams(t *testing.T) {
	fd := newFakeDevice(t)
	client, loginID := loggedIn(t, fd)
	start, stop := testRange()

	_, err := client.FindFile(context.Background(), loginID, -1, RecordTypeAll, start, stop, 0)
	assert.Equal(t, ErrCodeIllegalParam, CodeOf(err))
	_, err = client.FindFile(context.Background(), loginID, 0, RecordTypeAll, stop, start, 0)
	assert.Equal(t, ErrCodeIllegalParam, CodeOf(err))
	_, err = client.FindFile(context.Background(), loginID+100, 0, RecordTypeAll, start, stop, 0)
	assert.Equal(t, ErrCodeInvalidHandle, CodeOf(err))
	assert.Equal(t, ErrCodeIllegalParam, CodeOf(client.SetRecordStreamType(loginID, RecordStreamType(10))))
}

func TestFindCondition(t *testing.T) {
	start, stop := testRange()
	cond := findCondition("308992", 1, RecordTypeAlarm, RecordStreamExtra1, start, stop)
	assert.True(t, strings.HasPrefix(cond, "/cgi-bin/mediaFileFind.cgi?action=findFile&object=308992&condition.Channel=2"))
	assert.Contains(t, cond, "&condition.StartTime=2024-03-01%2000%3A00%3A00")
	assert.Contains(t, cond, "&condition.Flags[0]=Event")
	assert.Contains(t, cond, "&condition.VideoStream=Extra1")

	cond = findCondition("1", 0, RecordTypeAll, RecordStreamMainAndExtra, start, stop)
	assert.NotContains(t, cond, "Flags")
	assert.NotContains(t, cond, "VideoStream")
}

func TestParseRecordFiles(t *testing.T) {
	files, found, err := parseRecordFiles("found=0\r\n")
	require.NoError(t, err)
	assert.Equal(t, 0, found)
	assert.Empty(t, files)

	_, _, err = parseRecordFiles("items[0].Channel=1\r\n")
	assert.Error(t, err)

	_, _, err = parseRecordFiles("found=1\r\nitems[0].StartTime=yesterday\r\n")
	assert.Error(t, err)

	files, _, err = parseRecordFiles("found=1\r\nitems[0].Channel=3\r\nitems[0].StartTime=2024-03-01 10:00:00\r\nitems[0].EndTime=2024-03-01 10:30:00\r\nitems[0].Events[1]=VideoMotion\r\nitems[0].Events[0]=AlarmLocal\r\n")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, 2, files[0].Channel)
	assert.Equal(t, []string{"AlarmLocal", "VideoMotion"}, files[0].Events)
}
