package netsdk

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// When map of sessions doesn't contain requested handle
	ErrSessionNotFound = fmt.Errorf("Session not found for provided handle")
	// When map of real plays doesn't contain requested handle
	ErrPlayNotFound = fmt.Errorf("Real play not found for provided handle")
	// When map of downloads doesn't contain requested handle
	ErrDownloadNotFound = fmt.Errorf("Download not found for provided handle")
	// When map of finders doesn't contain requested handle
	ErrFindNotFound = fmt.Errorf("Finder not found for provided handle")
	// When stream has no video data
	ErrStreamHasNoVideo = fmt.Errorf("Stream doesn't have video")
	// When RTSP session has been stopped by the device
	ErrStreamDisconnected = fmt.Errorf("Disconnected")
	// When codec data has not been received yet
	ErrNoCodecData = fmt.Errorf("No codec data")
	// When archive storage is not configured
	ErrNullArchive = fmt.Errorf("Archive storage is nil")
	// When configuration doesn't contain requested device
	ErrDeviceNotFound = fmt.Errorf("Device not found for provided identifier")
	// When device is not logged in
	ErrDeviceOffline = fmt.Errorf("Device is not logged in")
	// When real play is not being recorded by application
	ErrNotRecording = fmt.Errorf("Real play is not being recorded")
	// When device answers snapshot request with something else than a picture
	ErrNotPicture = fmt.Errorf("Device answer is not a picture")
	// When file name given to the API points outside of the media directories
	ErrBadFileName = fmt.Errorf("Bad file name")
)

// ErrorCode is a client error code. Codes follow the NetSDK convention: 0x80000000 | n
type ErrorCode uint32

func ec(n uint32) ErrorCode {
	return ErrorCode(0x80000000 | n)
}

var (
	ErrCodeNone            = ErrorCode(0)
	ErrCodeSystem          = ec(1)
	ErrCodeNetwork         = ec(2)
	ErrCodeInvalidHandle   = ec(4)
	ErrCodeOpenChannel     = ec(5)
	ErrCodeIllegalParam    = ec(7)
	ErrCodeSDKInit         = ec(8)
	ErrCodeSDKUninit       = ec(9)
	ErrCodeOpenFile        = ec(13)
	ErrCodeNoRecordFound   = ec(21)
	ErrCodeNotSupported    = ec(23)
	ErrCodeRecordBusy      = ec(24)
	ErrCodeLoginPassword   = ec(100)
	ErrCodeLoginUser       = ec(101)
	ErrCodeLoginTimeout    = ec(102)
	ErrCodeLoginLocked     = ec(104)
	ErrCodeLoginConnect    = ec(107)
	ErrCodeLoginNetwork    = ec(108)
	ErrCodeDeviceResponse  = ec(200)
	ErrCodeDownloadWrite   = ec(201)
	ErrCodeDownloadStopped = ec(202)
)

var errorCodeNames = map[ErrorCode]string{
	ErrCodeNone:            "no error",
	ErrCodeSystem:          "system error",
	ErrCodeNetwork:         "network error",
	ErrCodeInvalidHandle:   "invalid handle",
	ErrCodeOpenChannel:     "can't open channel",
	ErrCodeIllegalParam:    "illegal parameter",
	ErrCodeSDKInit:         "client initialization failed",
	ErrCodeSDKUninit:       "client is not initialized",
	ErrCodeOpenFile:        "can't open file",
	ErrCodeNoRecordFound:   "no record found",
	ErrCodeNotSupported:    "not supported",
	ErrCodeRecordBusy:      "recording is already running",
	ErrCodeLoginPassword:   "wrong password",
	ErrCodeLoginUser:       "user does not exist",
	ErrCodeLoginTimeout:    "login timeout",
	ErrCodeLoginLocked:     "account is locked",
	ErrCodeLoginConnect:    "can't connect to device",
	ErrCodeLoginNetwork:    "network error on login",
	ErrCodeDeviceResponse:  "bad device response",
	ErrCodeDownloadWrite:   "can't write downloaded data",
	ErrCodeDownloadStopped: "download stopped",
}

// String returns hexadecimal representation (the way NetSDK samples print it) with description
func (code ErrorCode) String() string {
	name, ok := errorCodeNames[code]
	if !ok {
		name = "unknown"
	}
	return fmt.Sprintf("%x (%s)", uint32(code), name)
}

// SDKError is an error of the client call. Op is the name of the call
type SDKError struct {
	Op   string
	Code ErrorCode
	Err  error
}

func (e *SDKError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed! Last Error[%x]: %s", e.Op, uint32(e.Code), e.Err.Error())
	}
	return fmt.Sprintf("%s failed! Last Error[%x]", e.Op, uint32(e.Code))
}

func (e *SDKError) Unwrap() error {
	return e.Err
}

func newSDKError(op string, code ErrorCode, err error) *SDKError {
	return &SDKError{Op: op, Code: code, Err: err}
}

// CodeOf extracts error code from the error chain. Returns ErrCodeNone for nil and ErrCodeSystem for foreign errors
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeNone
	}
	var sdkErr *SDKError
	if errors.As(err, &sdkErr) {
		return sdkErr.Code
	}
	return ErrCodeSystem
}
