package netsdk

import "strings"

// RealPlayType selects device's stream. Maps to RTSP 'subtype'
type RealPlayType int

const (
	RealPlayMain = RealPlayType(iota)
	RealPlayExtra1
	RealPlayExtra2
)

func (iotaIdx RealPlayType) String() string {
	return [...]string{"main", "extra1", "extra2"}[iotaIdx]
}

var realPlayTypes = map[string]RealPlayType{
	"main":   RealPlayMain,
	"extra1": RealPlayExtra1,
	"extra2": RealPlayExtra2,
}

// NewRealPlayTypeFrom parses 'main', 'extra1' or 'extra2'
func NewRealPlayTypeFrom(str string) (RealPlayType, bool) {
	v, ok := realPlayTypes[strings.ToLower(str)]
	return v, ok
}

// StreamType is an output of the real play which could be consumed by viewers
type StreamType uint16

const (
	STREAM_TYPE_UNDEFINED = StreamType(iota)
	STREAM_TYPE_HLS
	STREAM_TYPE_MSE
)

func (iotaIdx StreamType) String() string {
	return [...]string{"undefined", "hls", "mse"}[iotaIdx]
}

var supportedStreamTypes = map[string]StreamType{
	"hls": STREAM_TYPE_HLS,
	"mse": STREAM_TYPE_MSE,
}

// StreamTypeExists parses name of the output
func StreamTypeExists(typeName string) (StreamType, bool) {
	v, ok := supportedStreamTypes[strings.ToLower(typeName)]
	return v, ok
}

// DataType is a kind of data passed to data callbacks
type DataType int

const (
	// Data as it comes from device
	DataTypeRaw = DataType(iota)
	// Data with standard container
	DataTypeStandardVideo
	DataTypeYUV
	DataTypePCM
	DataTypeRawAudio
)

func (iotaIdx DataType) String() string {
	return [...]string{"raw", "standard_video", "yuv", "pcm", "raw_audio"}[iotaIdx]
}
