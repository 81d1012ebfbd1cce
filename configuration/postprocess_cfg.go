package configuration

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	defaultHlsDir          = "./hls"
	defaultHlsMsPerSegment = 10000
	defaultHlsCapacity     = 10
	defaultHlsWindowSize   = 5

	defaultAPIHost   = "localhost"
	defaultAPIPort   = 8091
	defaultVideoHost = "localhost"
	defaultVideoPort = 8090

	defaultRecordDir       = "./records"
	defaultRecordExtension = ".ts"
	defaultDownloadDir     = "./downloads"
	defaultArchiveDir      = "./archive"
	defaultArchiveBucket   = "records"
	defaultFFmpegPath      = "ffmpeg"
	defaultChunkSize       = 8 * 1024
	defaultLoginRetryMs    = 1000
	defaultRealPlayType    = "main"
)

func postProcessDefaults(cfg *Configuration) {
	if cfg.SDKCfg.LoginRetryMs <= 0 {
		cfg.SDKCfg.LoginRetryMs = defaultLoginRetryMs
	}
	if cfg.APICfg.Host == "" {
		cfg.APICfg.Host = defaultAPIHost
	}
	if cfg.APICfg.Port == 0 {
		cfg.APICfg.Port = defaultAPIPort
	}
	if cfg.VideoServerCfg.Host == "" {
		cfg.VideoServerCfg.Host = defaultVideoHost
	}
	if cfg.VideoServerCfg.Port == 0 {
		cfg.VideoServerCfg.Port = defaultVideoPort
	}

	if cfg.HLSCfg.Directory == "" {
		cfg.HLSCfg.Directory = defaultHlsDir
	}
	if cfg.HLSCfg.MsPerSegment == 0 {
		cfg.HLSCfg.MsPerSegment = defaultHlsMsPerSegment
	}
	if cfg.HLSCfg.Capacity == 0 {
		cfg.HLSCfg.Capacity = defaultHlsCapacity
	}
	if cfg.HLSCfg.WindowSize == 0 {
		cfg.HLSCfg.WindowSize = defaultHlsWindowSize
	}
	if cfg.HLSCfg.WindowSize > cfg.HLSCfg.Capacity {
		cfg.HLSCfg.WindowSize = cfg.HLSCfg.Capacity
	}

	if cfg.RecordCfg.Directory == "" {
		cfg.RecordCfg.Directory = defaultRecordDir
	}
	if cfg.RecordCfg.Extension == "" {
		cfg.RecordCfg.Extension = defaultRecordExtension
	}
	if !strings.HasPrefix(cfg.RecordCfg.Extension, ".") {
		cfg.RecordCfg.Extension = "." + cfg.RecordCfg.Extension
	}
	if cfg.DownloadCfg.Directory == "" {
		cfg.DownloadCfg.Directory = defaultDownloadDir
	}

	if cfg.ConvertCfg.FFmpegPath == "" {
		cfg.ConvertCfg.FFmpegPath = defaultFFmpegPath
	}
	if cfg.ConvertCfg.ChunkSize <= 0 {
		cfg.ConvertCfg.ChunkSize = defaultChunkSize
	}

	if cfg.ArchiveCfg.Type == "" {
		cfg.ArchiveCfg.Type = "filesystem"
	}
	if cfg.ArchiveCfg.Directory == "" {
		cfg.ArchiveCfg.Directory = defaultArchiveDir
	}
	if cfg.ArchiveCfg.Bucket == "" {
		if cfg.ArchiveCfg.Minio.DefaultBucket != "" {
			cfg.ArchiveCfg.Bucket = cfg.ArchiveCfg.Minio.DefaultBucket
		} else {
			cfg.ArchiveCfg.Bucket = defaultArchiveBucket
		}
	}

	for i := range cfg.Devices {
		for j := range cfg.Devices[i].RealPlays {
			if cfg.Devices[i].RealPlays[j].Type == "" {
				cfg.Devices[i].RealPlays[j].Type = defaultRealPlayType
			}
		}
	}
}

func validate(cfg *Configuration) error {
	seen := make(map[string]struct{}, len(cfg.Devices))
	for i, dev := range cfg.Devices {
		if dev.ID == "" {
			return errors.Errorf("Device #%d has empty 'id'", i)
		}
		if _, ok := seen[dev.ID]; ok {
			return errors.Errorf("Duplicated device 'id' '%s'", dev.ID)
		}
		seen[dev.ID] = struct{}{}
		if dev.IP == "" {
			return errors.Errorf("Device '%s' has empty 'ip'", dev.ID)
		}
		for _, rp := range dev.RealPlays {
			if rp.Channel < 0 {
				return errors.Errorf("Device '%s' has real play with negative channel %d", dev.ID, rp.Channel)
			}
		}
	}
	switch strings.ToLower(cfg.ArchiveCfg.Type) {
	case "filesystem", "minio":
	default:
		return errors.Errorf("Not supported archive type '%s'", cfg.ArchiveCfg.Type)
	}
	return nil
}
