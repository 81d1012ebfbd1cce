package netsdk

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// Sample programs never expect more than this amount of files per search
	MaxRecordFileCount = 5000
	findPageSize       = 100
	defaultFindTimeout = 5 * time.Second
)

// RecordStreamType selects which streams' records are searched and downloaded
type RecordStreamType int

const (
	RecordStreamMainAndExtra = RecordStreamType(iota)
	RecordStreamMain
	RecordStreamExtra1
	RecordStreamExtra2
	RecordStreamExtra3
)

func (iotaIdx RecordStreamType) String() string {
	return [...]string{"", "Main", "Extra1", "Extra2", "Extra3"}[iotaIdx]
}

// subtype returns loadfile.cgi subtype. Main and extra records are requested as main
func (iotaIdx RecordStreamType) subtype() int {
	switch iotaIdx {
	case RecordStreamExtra1:
		return 1
	case RecordStreamExtra2:
		return 2
	case RecordStreamExtra3:
		return 3
	default:
		return 0
	}
}

// RecordFileType filters record files by what has triggered the recording
type RecordFileType int

const (
	RecordTypeAll = RecordFileType(iota)
	RecordTypeAlarm
	RecordTypeMotionDetect
	RecordTypeAlarmAll
	RecordTypeCard
	RecordTypeManual
	RecordTypeTiming
)

func (iotaIdx RecordFileType) String() string {
	return [...]string{"all", "alarm", "motion_detect", "alarm_all", "card", "manual", "timing"}[iotaIdx]
}

// NewRecordFileTypeFrom parses record file type name. Empty string means all files
func NewRecordFileTypeFrom(str string) (RecordFileType, bool) {
	if str == "" {
		return RecordTypeAll, true
	}
	for i, name := range [...]string{"all", "alarm", "motion_detect", "alarm_all", "card", "manual", "timing"} {
		if strings.EqualFold(name, str) {
			return RecordFileType(i), true
		}
	}
	return RecordTypeAll, false
}

// flags returns mediaFileFind.cgi condition flags
func (iotaIdx RecordFileType) flags() []string {
	switch iotaIdx {
	case RecordTypeAlarm, RecordTypeMotionDetect, RecordTypeAlarmAll, RecordTypeCard:
		return []string{"Event"}
	case RecordTypeManual:
		return []string{"Manual"}
	case RecordTypeTiming:
		return []string{"Timing"}
	default:
		return nil
	}
}

// FindResult is the outcome of FindNextFile
type FindResult int

const (
	// No more files
	FindResultDone = FindResult(0)
	// File info has been returned
	FindResultFound = FindResult(1)
)

// RecordFileInfo is a record file stored on the device
type RecordFileInfo struct {
	// Zero based channel number
	Channel   int      `json:"channel"`
	FileName  string   `json:"file_name"`
	Size      int64    `json:"size"`
	StartTime NetTime  `json:"start_time"`
	EndTime   NetTime  `json:"end_time"`
	DriveNo   int      `json:"drive_no"`
	Stream    string   `json:"stream"`
	Flags     []string `json:"flags"`
	Events    []string `json:"events"`
}

// finder is a search object created on the device
type finder struct {
	sync.Mutex
	id        FindID
	loginID   LoginID
	objectID  string
	buffer    []RecordFileInfo
	exhausted bool
}

// SetRecordStreamType selects streams for record search and download by time
func (c *Client) SetRecordStreamType(loginID LoginID, streamType RecordStreamType) error {
	const op = "SetRecordStreamType"
	if streamType < RecordStreamMainAndExtra || streamType > RecordStreamExtra3 {
		return c.fail(op, ErrCodeIllegalParam, errors.Errorf("bad stream type %d", streamType))
	}
	s, ok := c.handles.getSession(loginID)
	if !ok {
		return c.fail(op, ErrCodeInvalidHandle, ErrSessionNotFound)
	}
	s.mu.Lock()
	s.recordStreamType = streamType
	s.mu.Unlock()
	return nil
}

func cgiEscape(str string) string {
	return strings.ReplaceAll(url.QueryEscape(str), "+", "%20")
}

func findCondition(objectID string, channel int, fileType RecordFileType, streamType RecordStreamType, start, stop NetTime) string {
	var sb strings.Builder
	sb.WriteString("/cgi-bin/mediaFileFind.cgi?action=findFile")
	sb.WriteString("&object=" + cgiEscape(objectID))
	sb.WriteString("&condition.Channel=" + strconv.Itoa(channel+1))
	sb.WriteString("&condition.StartTime=" + cgiEscape(start.cgiString()))
	sb.WriteString("&condition.EndTime=" + cgiEscape(stop.cgiString()))
	sb.WriteString("&condition.Types[0]=dav")
	for i, flag := range fileType.flags() {
		sb.WriteString(fmt.Sprintf("&condition.Flags[%d]=%s", i, flag))
	}
	if streamType != RecordStreamMainAndExtra {
		sb.WriteString("&condition.VideoStream=" + streamType.String())
	}
	return sb.String()
}

func validateTimeRange(start, stop NetTime) error {
	if err := start.Validate(); err != nil {
		return errors.Wrap(err, "start time")
	}
	if err := stop.Validate(); err != nil {
		return errors.Wrap(err, "stop time")
	}
	if !start.Time().Before(stop.Time()) {
		return errors.Errorf("start time %s is not before stop time %s", start, stop)
	}
	return nil
}

// FindFile starts the search of record files. Channel is zero based.
// timeout limits the creation of the search on the device; zero means default
func (c *Client) FindFile(ctx context.Context, loginID LoginID, channel int, fileType RecordFileType, start, stop NetTime, timeout time.Duration) (FindID, error) {
	const op = "FindFile"
	if err := c.ensureInit(op); err != nil {
		return 0, err
	}
	if channel < 0 {
		return 0, c.fail(op, ErrCodeIllegalParam, errors.Errorf("bad channel %d", channel))
	}
	if err := validateTimeRange(start, stop); err != nil {
		return 0, c.fail(op, ErrCodeIllegalParam, err)
	}
	s, ok := c.handles.getSession(loginID)
	if !ok {
		return 0, c.fail(op, ErrCodeInvalidHandle, ErrSessionNotFound)
	}
	if timeout <= 0 {
		timeout = defaultFindTimeout
	}
	findCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := s.http.get(findCtx, "/cgi-bin/mediaFileFind.cgi?action=factory.create")
	if err != nil {
		return 0, c.fail(op, classifyError(err, false), err)
	}
	objectID := cgiValue(body)
	if objectID == "" {
		return 0, c.fail(op, ErrCodeDeviceResponse, errors.New("empty finder object"))
	}
	_, err = s.http.get(findCtx, findCondition(objectID, channel, fileType, s.getRecordStreamType(), start, stop))
	if err != nil {
		destroyFinder(s, objectID)
		code := classifyError(err, false)
		// Device answers 'Error' when there is nothing in the range
		if code == ErrCodeDeviceResponse {
			code = ErrCodeNoRecordFound
		}
		return 0, c.fail(op, code, err)
	}
	f := &finder{
		id:       FindID(c.nextHandle()),
		loginID:  loginID,
		objectID: objectID,
	}
	c.handles.addFinder(f)
	log.Info().Str("scope", SCOPE_FIND).Str("event", EVENT_FIND_CREATE).Int64("login_id", int64(loginID)).Int64("find_id", int64(f.id)).Int("channel", channel).Str("start", start.String()).Str("stop", stop.String()).Str("record_type", fileType.String()).Msg("Finder has been created")
	return f.id, nil
}

// FindNextFile returns next record file. FindResultDone means there are no more files
func (c *Client) FindNextFile(ctx context.Context, findID FindID) (RecordFileInfo, FindResult, error) {
	const op = "FindNextFile"
	f, ok := c.handles.getFinder(findID)
	if !ok {
		return RecordFileInfo{}, FindResultDone, c.fail(op, ErrCodeInvalidHandle, ErrFindNotFound)
	}
	s, ok := c.handles.getSession(f.loginID)
	if !ok {
		return RecordFileInfo{}, FindResultDone, c.fail(op, ErrCodeInvalidHandle, ErrSessionNotFound)
	}
	f.Lock()
	defer f.Unlock()
	if len(f.buffer) == 0 && !f.exhausted {
		path := fmt.Sprintf("/cgi-bin/mediaFileFind.cgi?action=findNextFile&object=%s&count=%d", cgiEscape(f.objectID), findPageSize)
		body, err := s.http.get(ctx, path)
		if err != nil {
			return RecordFileInfo{}, FindResultDone, c.fail(op, classifyError(err, false), err)
		}
		files, found, err := parseRecordFiles(body)
		if err != nil {
			return RecordFileInfo{}, FindResultDone, c.fail(op, ErrCodeDeviceResponse, err)
		}
		if c.verboseLevel() > VERBOSE_SIMPLE {
			log.Info().Str("scope", SCOPE_FIND).Str("event", EVENT_FIND_NEXT).Int64("find_id", int64(findID)).Int("found", found).Msg("Page of record files")
		}
		f.buffer = files
		if found < findPageSize {
			f.exhausted = true
		}
	}
	if len(f.buffer) == 0 {
		return RecordFileInfo{}, FindResultDone, nil
	}
	info := f.buffer[0]
	f.buffer = f.buffer[1:]
	return info, FindResultFound, nil
}

// FindClose destroys the search on the device and forgets the handle
func (c *Client) FindClose(findID FindID) error {
	const op = "FindClose"
	f, ok := c.handles.deleteFinder(findID)
	if !ok {
		return c.fail(op, ErrCodeInvalidHandle, ErrFindNotFound)
	}
	if s, ok := c.handles.getSession(f.loginID); ok {
		destroyFinder(s, f.objectID)
	}
	log.Info().Str("scope", SCOPE_FIND).Str("event", EVENT_FIND_CLOSE).Int64("find_id", int64(findID)).Msg("Finder has been closed")
	return nil
}

// QueryRecordFiles collects up to max record files in the range. Zero max means MaxRecordFileCount
func (c *Client) QueryRecordFiles(ctx context.Context, loginID LoginID, channel int, fileType RecordFileType, start, stop NetTime, max int) ([]RecordFileInfo, error) {
	if max <= 0 {
		max = MaxRecordFileCount
	}
	findID, err := c.FindFile(ctx, loginID, channel, fileType, start, stop, 0)
	if err != nil {
		if CodeOf(err) == ErrCodeNoRecordFound {
			return []RecordFileInfo{}, nil
		}
		return nil, err
	}
	defer c.FindClose(findID)
	files := []RecordFileInfo{}
	for len(files) < max {
		info, result, err := c.FindNextFile(ctx, findID)
		if err != nil {
			return files, err
		}
		if result == FindResultDone {
			break
		}
		files = append(files, info)
	}
	return files, nil
}

func destroyFinder(s *session, objectID string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultFindTimeout)
	defer cancel()
	for _, action := range []string{"close", "destroy"} {
		_, err := s.http.get(ctx, fmt.Sprintf("/cgi-bin/mediaFileFind.cgi?action=%s&object=%s", action, cgiEscape(objectID)))
		if err != nil {
			log.Warn().Err(err).Str("scope", SCOPE_FIND).Str("event", EVENT_FIND_CLOSE).Str("object", objectID).Str("action", action).Msg("Can't release finder on device")
		}
	}
}

// parseRecordFiles parses findNextFile answer: 'found=N' followed by 'items[i].Field=value' lines
func parseRecordFiles(body string) ([]RecordFileInfo, int, error) {
	values := cgiValues(body)
	foundStr, ok := values["found"]
	if !ok {
		return nil, 0, errors.Errorf("no 'found' field in answer '%s'", body)
	}
	found, err := strconv.Atoi(foundStr)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "bad 'found' field '%s'", foundStr)
	}
	items := cgiItems(values, "items")
	files := make([]RecordFileInfo, 0, len(items))
	for _, item := range items {
		info := RecordFileInfo{
			FileName: item["FilePath"],
			Stream:   item["VideoStream"],
		}
		if ch, err := strconv.Atoi(item["Channel"]); err == nil && ch > 0 {
			info.Channel = ch - 1
		}
		if size, err := strconv.ParseInt(item["Length"], 10, 64); err == nil {
			info.Size = size
		}
		if disk, err := strconv.Atoi(item["Disk"]); err == nil {
			info.DriveNo = disk
		}
		if info.StartTime, err = ParseNetTime(item["StartTime"]); err != nil {
			return nil, 0, err
		}
		if info.EndTime, err = ParseNetTime(item["EndTime"]); err != nil {
			return nil, 0, err
		}
		info.Flags = indexedValues(item, "Flags")
		info.Events = indexedValues(item, "Events")
		files = append(files, info)
	}
	return files, found, nil
}

// indexedValues collects "Prefix[N]=value" fields ordered by N
func indexedValues(item map[string]string, prefix string) []string {
	indexed := make(map[int]string)
	indices := []int{}
	for k, v := range item {
		if !strings.HasPrefix(k, prefix+"[") || !strings.HasSuffix(k, "]") {
			continue
		}
		idx, err := strconv.Atoi(k[len(prefix)+1 : len(k)-1])
		if err != nil {
			continue
		}
		indexed[idx] = v
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	ret := make([]string, 0, len(indices))
	for _, idx := range indices {
		ret = append(ret, indexed[idx])
	}
	return ret
}
