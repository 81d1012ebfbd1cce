package configuration

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrepareConfigurationJSON(t *testing.T) {
	cfg, err := PrepareConfiguration("testdata/conf.json")
	require.NoError(t, err)
	require.Len(t, cfg.Devices, 1)

	dev, ok := cfg.Device("nvr-1")
	require.True(t, ok)
	require.Equal(t, "192.168.1.111", dev.IP)
	require.True(t, dev.AutoLogin)
	require.Len(t, dev.RealPlays, 1)
	require.Equal(t, "main", dev.RealPlays[0].Type)
	require.Equal(t, []string{"hls", "mse"}, dev.RealPlays[0].OutputTypes)

	require.True(t, cfg.SDKCfg.AutoReconnect)
	require.EqualValues(t, 1000, cfg.SDKCfg.LoginRetryMs)
	require.Equal(t, "localhost", cfg.APICfg.Host)
	require.EqualValues(t, 8090, cfg.VideoServerCfg.Port)

	// Window can't be bigger than capacity
	require.EqualValues(t, 10, cfg.HLSCfg.WindowSize)
	require.Equal(t, "./hls", cfg.HLSCfg.Directory)

	require.Equal(t, ".mp4", cfg.RecordCfg.Extension)
	require.Equal(t, "./records", cfg.RecordCfg.Directory)
	require.Equal(t, "dahua", cfg.ArchiveCfg.Bucket)
	require.EqualValues(t, 29199, cfg.ArchiveCfg.Minio.Port)
	require.Equal(t, 8*1024, cfg.ConvertCfg.ChunkSize)
}

func TestPrepareConfigurationTOML(t *testing.T) {
	cfg, err := PrepareConfiguration("testdata/conf.toml")
	require.NoError(t, err)
	require.Len(t, cfg.Devices, 1)
	require.Equal(t, "camera-1", cfg.Devices[0].ID)
	require.True(t, cfg.Devices[0].Onvif)
	require.Len(t, cfg.Devices[0].RealPlays, 1)
	require.Equal(t, "extra1", cfg.Devices[0].RealPlays[0].Type)
	require.Equal(t, "vv", cfg.SDKCfg.Verbose)
	require.Equal(t, "0.0.0.0", cfg.APICfg.Host)
	require.Equal(t, "dhav", cfg.ConvertCfg.InputFormat)
	require.Equal(t, []string{"-c", "copy"}, cfg.ConvertCfg.Args)
	require.Equal(t, "./dl", cfg.DownloadCfg.Directory)
	require.Equal(t, "filesystem", cfg.ArchiveCfg.Type)
	require.Equal(t, ".ts", cfg.RecordCfg.Extension)
}

func TestPrepareConfigurationErrors(t *testing.T) {
	_, err := PrepareConfiguration("")
	require.Error(t, err)
	_, err = PrepareConfiguration("testdata/conf.yaml")
	require.Error(t, err)
	_, err = PrepareConfiguration("testdata/missing.json")
	require.Error(t, err)
	_, err = PrepareConfiguration("testdata/bad_duplicate.json")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Duplicated device")
}
