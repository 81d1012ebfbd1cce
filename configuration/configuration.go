package configuration

import (
	"fmt"
)

// Configuration represents user defined settings for the NetSDK server
type Configuration struct {
	SDKCfg         SDKConfiguration      `json:"sdk" toml:"sdk"`
	Devices        []DeviceConfiguration `json:"devices" toml:"devices"`
	APICfg         APIConfiguration      `json:"api" toml:"api"`
	VideoServerCfg VideoConfiguration    `json:"video" toml:"video"`
	HLSCfg         HLSConfiguration      `json:"hls" toml:"hls"`
	RecordCfg      RecordConfiguration   `json:"record" toml:"record"`
	DownloadCfg    DownloadConfiguration `json:"download" toml:"download"`
	ConvertCfg     ConvertConfiguration  `json:"convert" toml:"convert"`
	ArchiveCfg     ArchiveConfiguration  `json:"archive" toml:"archive"`
	CorsConfig     CORSConfiguration     `json:"cors" toml:"cors"`
}

// SDKConfiguration is a set of client-wide settings
type SDKConfiguration struct {
	// Timeout of single login attempt
	WaitTimeMs    int64 `json:"wait_time_ms" toml:"wait_time_ms"`
	ConnectTryNum int   `json:"connect_try_num" toml:"connect_try_num"`
	// Timeout of TCP connection establishing
	ConnectTimeMs       int64 `json:"connect_time_ms" toml:"connect_time_ms"`
	HeartbeatIntervalMs int64 `json:"heartbeat_interval_ms" toml:"heartbeat_interval_ms"`
	AutoReconnect       bool  `json:"auto_reconnect" toml:"auto_reconnect"`
	// Pause between login attempts for devices with 'auto_login'
	LoginRetryMs int64 `json:"login_retry_ms" toml:"login_retry_ms"`
	// Level of verbose. Pick 'v', 'vv' or 'vvv' (or leave it empty)
	Verbose string `json:"verbose" toml:"verbose"`
}

// DeviceConfiguration describes single device
type DeviceConfiguration struct {
	ID       string `json:"id" toml:"id"`
	IP       string `json:"ip" toml:"ip"`
	Port     int    `json:"port" toml:"port"`
	RTSPPort int    `json:"rtsp_port" toml:"rtsp_port"`
	Username string `json:"username" toml:"username"`
	Password string `json:"password" toml:"password"`
	// Ask ONVIF service for manufacturer and model on login
	Onvif bool `json:"onvif" toml:"onvif"`
	// Login on start (retrying until success)
	AutoLogin bool                    `json:"auto_login" toml:"auto_login"`
	RealPlays []RealPlayConfiguration `json:"real_plays" toml:"real_plays"`
}

// RealPlayConfiguration is a real play started right after login
type RealPlayConfiguration struct {
	Channel int `json:"channel" toml:"channel"`
	// 'main', 'extra1' or 'extra2'
	Type        string   `json:"type" toml:"type"`
	OutputTypes []string `json:"output_types" toml:"output_types"`
	Record      bool     `json:"record" toml:"record"`
}

// APIConfiguration is needed for configuring REST API part
type APIConfiguration struct {
	Enabled bool   `json:"enabled" toml:"enabled"`
	Host    string `json:"host" toml:"host"`
	Port    int32  `json:"port" toml:"port"`
	// 'release' or 'debug' for GIN
	Mode    string `json:"mode" toml:"mode"`
	Verbose string `json:"verbose" toml:"verbose"`
}

// VideoConfiguration is needed for configuring MSE and HLS server part
type VideoConfiguration struct {
	Host string `json:"host" toml:"host"`
	Port int32  `json:"port" toml:"port"`
	// 'release' or 'debug' for GIN
	Mode    string `json:"mode" toml:"mode"`
	Verbose string `json:"verbose" toml:"verbose"`
}

// HLSConfiguration is a HLS configuration for every real play with "hls" in 'output_types'
type HLSConfiguration struct {
	MsPerSegment int64  `json:"ms_per_segment" toml:"ms_per_segment"`
	Directory    string `json:"directory" toml:"directory"`
	WindowSize   uint   `json:"window_size" toml:"window_size"`
	Capacity     uint   `json:"window_capacity" toml:"window_capacity"`
}

// RecordConfiguration is a local recording of real plays
type RecordConfiguration struct {
	Directory string `json:"directory" toml:"directory"`
	// '.ts' or '.mp4'
	Extension string `json:"extension" toml:"extension"`
	// Transcode finished recording into MP4
	Convert bool `json:"convert" toml:"convert"`
	// Rename finished recording to 'yyyyMMdd_HHmmss'
	Rename bool `json:"rename" toml:"rename"`
	// Upload finished recording to archive
	Upload bool `json:"upload" toml:"upload"`
}

// DownloadConfiguration is settings for records downloaded from devices
type DownloadConfiguration struct {
	Directory string `json:"directory" toml:"directory"`
	// Convert finished DAV download into MP4
	Convert bool `json:"convert" toml:"convert"`
	// Upload finished download to archive
	Upload bool `json:"upload" toml:"upload"`
}

// ConvertConfiguration is settings for ffmpeg based transcoding
type ConvertConfiguration struct {
	FFmpegPath  string   `json:"ffmpeg_path" toml:"ffmpeg_path"`
	InputFormat string   `json:"input_format" toml:"input_format"`
	Args        []string `json:"args" toml:"args"`
	ChunkSize   int      `json:"chunk_size" toml:"chunk_size"`
	Verbose     string   `json:"verbose" toml:"verbose"`
}

// ArchiveConfiguration is a storage for finished recordings and downloads
type ArchiveConfiguration struct {
	Enabled bool `json:"enabled" toml:"enabled"`
	// 'filesystem' or 'minio'
	Type      string        `json:"type" toml:"type"`
	Directory string        `json:"directory" toml:"directory"`
	Bucket    string        `json:"bucket" toml:"bucket"`
	Minio     MinioSettings `json:"minio_settings" toml:"minio_settings"`
}

// MinioSettings
type MinioSettings struct {
	Host           string `json:"host" toml:"host"`
	Port           int32  `json:"port" toml:"port"`
	User           string `json:"user" toml:"user"`
	Password       string `json:"password" toml:"password"`
	UseSSL         bool   `json:"use_ssl" toml:"use_ssl"`
	DefaultBucket  string `json:"default_bucket" toml:"default_bucket"`
	DefaultPath    string `json:"default_path" toml:"default_path"`
	ExpirationDays int    `json:"expiration_days" toml:"expiration_days"`
}

func (ms *MinioSettings) String() string {
	return fmt.Sprintf("Host '%s' Port '%d' User '%s' Bucket '%s' Path '%s'", ms.Host, ms.Port, ms.User, ms.DefaultBucket, ms.DefaultPath)
}

// CORSConfiguration is settings for CORS
type CORSConfiguration struct {
	Enabled          bool     `json:"enabled" toml:"enabled"`
	AllowOrigins     []string `json:"allow_origins" toml:"allow_origins"`
	AllowMethods     []string `json:"allow_methods" toml:"allow_methods"`
	AllowHeaders     []string `json:"allow_headers" toml:"allow_headers"`
	ExposeHeaders    []string `json:"expose_headers" toml:"expose_headers"`
	AllowCredentials bool     `json:"allow_credentials" toml:"allow_credentials"`
}

// Device returns device configuration by its identifier
func (cfg *Configuration) Device(id string) (DeviceConfiguration, bool) {
	for _, dev := range cfg.Devices {
		if dev.ID == id {
			return dev, true
		}
	}
	return DeviceConfiguration{}, false
}
