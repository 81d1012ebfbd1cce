package netsdk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/LdDl/go-netsdk/configuration"
	"github.com/LdDl/go-netsdk/convert"
	"github.com/LdDl/go-netsdk/storage"
	"github.com/gin-contrib/cors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Application is a long running service over the client: configured devices, REST API and video server
type Application struct {
	APICfg         configuration.APIConfiguration
	VideoServerCfg configuration.VideoConfiguration
	CorsConfig     *cors.Config
	recordCfg      configuration.RecordConfiguration
	downloadCfg    configuration.DownloadConfiguration
	loginRetry     time.Duration

	client    *Client
	devices   devicesStorage
	archive   storage.ArchiveStorage
	bucket    string
	converter *convert.Converter

	recordsMu sync.Mutex
	// Current recording per real play
	records map[PlayID]recording

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewApplication prepares client and storages from configuration
func NewApplication(cfg *configuration.Configuration) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &Application{
		APICfg:         cfg.APICfg,
		VideoServerCfg: cfg.VideoServerCfg,
		recordCfg:      cfg.RecordCfg,
		downloadCfg:    cfg.DownloadCfg,
		loginRetry:     time.Duration(cfg.SDKCfg.LoginRetryMs) * time.Millisecond,
		client:         NewClient(),
		devices:        newDevicesStorage(),
		records:        make(map[PlayID]recording),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, dev := range cfg.Devices {
		app.devices.add(dev)
	}

	if cfg.CorsConfig.Enabled {
		app.CorsConfig = &cors.Config{}
		defaultCors := cors.DefaultConfig()
		app.CorsConfig.AllowOrigins = cfg.CorsConfig.AllowOrigins
		if len(app.CorsConfig.AllowOrigins) == 0 {
			app.CorsConfig.AllowAllOrigins = true
		}
		app.CorsConfig.AllowMethods = defaultCors.AllowMethods
		if len(cfg.CorsConfig.AllowMethods) != 0 {
			app.CorsConfig.AllowMethods = cfg.CorsConfig.AllowMethods
		}
		app.CorsConfig.AllowHeaders = defaultCors.AllowHeaders
		if len(cfg.CorsConfig.AllowHeaders) != 0 {
			app.CorsConfig.AllowHeaders = cfg.CorsConfig.AllowHeaders
		}
		app.CorsConfig.ExposeHeaders = cfg.CorsConfig.ExposeHeaders
		app.CorsConfig.AllowCredentials = cfg.CorsConfig.AllowCredentials
	}

	if cfg.ArchiveCfg.Enabled {
		archive, err := prepareArchive(cfg.ArchiveCfg)
		if err != nil {
			cancel()
			return nil, errors.Wrap(err, "Can't prepare archive storage")
		}
		app.archive = archive
		app.bucket = cfg.ArchiveCfg.Bucket
	}

	app.converter = convert.NewConverter()
	app.converter.FFmpegPath = cfg.ConvertCfg.FFmpegPath
	app.converter.InputFormat = cfg.ConvertCfg.InputFormat
	if len(cfg.ConvertCfg.Args) != 0 {
		app.converter.Args = cfg.ConvertCfg.Args
	}
	app.converter.ChunkSize = cfg.ConvertCfg.ChunkSize
	app.converter.Verbose = NewVerboseLevelFrom(cfg.ConvertCfg.Verbose) > VERBOSE_NONE

	if err := app.client.Init(app.onDisconnect); err != nil {
		cancel()
		return nil, err
	}
	app.client.SetVerbose(NewVerboseLevelFrom(cfg.SDKCfg.Verbose))
	app.client.SetNetworkParam(NetParam{
		WaitTime:          time.Duration(cfg.SDKCfg.WaitTimeMs) * time.Millisecond,
		ConnectTryNum:     cfg.SDKCfg.ConnectTryNum,
		ConnectTime:       time.Duration(cfg.SDKCfg.ConnectTimeMs) * time.Millisecond,
		HeartbeatInterval: time.Duration(cfg.SDKCfg.HeartbeatIntervalMs) * time.Millisecond,
	})
	if cfg.SDKCfg.AutoReconnect {
		app.client.SetAutoReconnect(app.onReconnect)
	}
	app.client.SetHLSParam(HLSParam{
		Directory:    cfg.HLSCfg.Directory,
		MsPerSegment: cfg.HLSCfg.MsPerSegment,
		WindowSize:   cfg.HLSCfg.WindowSize,
		Capacity:     cfg.HLSCfg.Capacity,
	})
	return app, nil
}

func prepareArchive(cfg configuration.ArchiveConfiguration) (storage.ArchiveStorage, error) {
	switch storage.NewStorageTypeFrom(cfg.Type) {
	case storage.STORAGE_FILESYSTEM:
		return storage.NewFileSystemProvider(cfg.Directory, cfg.Bucket)
	case storage.STORAGE_MINIO:
		client, err := storage.NewMinioClient(cfg.Minio.Host, cfg.Minio.Port, cfg.Minio.User, cfg.Minio.Password, cfg.Minio.UseSSL)
		if err != nil {
			return nil, err
		}
		return storage.NewMinioProvider(client, cfg.Bucket, cfg.Minio.DefaultPath, cfg.Minio.ExpirationDays)
	default:
		return nil, errors.Errorf("Not supported archive type '%s'", cfg.Type)
	}
}

// Client returns underlying client
func (app *Application) Client() *Client {
	return app.client
}

func (app *Application) onDisconnect(loginID LoginID, ip string, port int) {
	log.Warn().Str("scope", SCOPE_APP).Str("event", EVENT_SESSION_DISCONNECT).Int64("login_id", int64(loginID)).Str("ip", ip).Int("port", port).Msg("Device has gone offline")
}

func (app *Application) onReconnect(loginID LoginID, ip string, port int) {
	log.Info().Str("scope", SCOPE_APP).Str("event", EVENT_SESSION_RECONNECT).Int64("login_id", int64(loginID)).Str("ip", ip).Int("port", port).Msg("Device is online again")
}

// StartDevices logs into every device with 'auto_login' (retrying until success) and starts their real plays
func (app *Application) StartDevices() {
	for _, id := range app.devices.ids() {
		dev, _ := app.devices.get(id)
		if !dev.cfg.AutoLogin {
			continue
		}
		app.wg.Add(1)
		go func(deviceID string) {
			defer app.wg.Done()
			app.startDevice(deviceID)
		}(id)
	}
}

func (app *Application) startDevice(deviceID string) {
	dev, ok := app.devices.get(deviceID)
	if !ok {
		return
	}
	loginID, info, err := app.client.LoginLoop(app.ctx, loginParamsFrom(dev.cfg), app.loginRetry)
	if err != nil {
		log.Error().Err(err).Str("scope", SCOPE_APP).Str("event", EVENT_APP_DEVICE_LOGIN).Str("device_id", deviceID).Msg("Device has not been logged in")
		return
	}
	unlock, _ := app.devices.lockLogin(deviceID)
	if current, _ := app.devices.get(deviceID); current.loginID != 0 {
		// Device has been logged in through API meanwhile: keep that session
		unlock()
		if err := app.client.Logout(loginID); err != nil {
			log.Warn().Err(err).Str("scope", SCOPE_APP).Str("event", EVENT_APP_DEVICE_LOGIN).Str("device_id", deviceID).Int64("login_id", int64(loginID)).Msg("Can't logout duplicate session")
		}
		loginID = current.loginID
	} else {
		app.devices.setLogin(deviceID, loginID, info)
		unlock()
	}
	log.Info().Str("scope", SCOPE_APP).Str("event", EVENT_APP_DEVICE_LOGIN).Str("device_id", deviceID).Int64("login_id", int64(loginID)).Msg("Device has been logged in")
	for _, rp := range dev.cfg.RealPlays {
		playType, ok := NewRealPlayTypeFrom(rp.Type)
		if !ok {
			log.Error().Str("scope", SCOPE_APP).Str("event", EVENT_APP_REALPLAY).Str("device_id", deviceID).Str("type", rp.Type).Msg("Unknown real play type")
			continue
		}
		outputs, err := parseOutputs(rp.OutputTypes)
		if err != nil {
			log.Error().Err(err).Str("scope", SCOPE_APP).Str("event", EVENT_APP_REALPLAY).Str("device_id", deviceID).Msg("Bad real play outputs")
			continue
		}
		playID, err := app.StartRealPlay(app.ctx, deviceID, rp.Channel, playType, outputs, rp.Record)
		if err != nil {
			log.Error().Err(err).Str("scope", SCOPE_APP).Str("event", EVENT_APP_REALPLAY).Str("device_id", deviceID).Int("channel", rp.Channel).Msg("Can't start real play")
			continue
		}
		log.Info().Str("scope", SCOPE_APP).Str("event", EVENT_APP_REALPLAY).Str("device_id", deviceID).Int("channel", rp.Channel).Int64("play_id", int64(playID)).Msg("Real play has been started")
	}
}

func parseOutputs(names []string) ([]StreamType, error) {
	outputs := make([]StreamType, 0, len(names))
	for _, name := range names {
		st, ok := StreamTypeExists(name)
		if !ok {
			return nil, errors.Errorf("Not supported output type '%s'", name)
		}
		outputs = append(outputs, st)
	}
	return outputs, nil
}

func loginParamsFrom(cfg configuration.DeviceConfiguration) LoginParams {
	return LoginParams{
		IP:       cfg.IP,
		Port:     cfg.Port,
		RTSPPort: cfg.RTSPPort,
		Username: cfg.Username,
		Password: cfg.Password,
		SpecCap:  LoginSpecCapTCP,
		Onvif:    cfg.Onvif,
	}
}

// Close stops background logins, finishes recordings and cleans the client up
func (app *Application) Close() {
	app.cancel()
	app.wg.Wait()
	app.recordsMu.Lock()
	playIDs := make([]PlayID, 0, len(app.records))
	for playID := range app.records {
		playIDs = append(playIDs, playID)
	}
	app.recordsMu.Unlock()
	for _, playID := range playIDs {
		if _, err := app.StopRecord(context.Background(), playID); err != nil {
			log.Warn().Err(err).Str("scope", SCOPE_APP).Str("event", EVENT_RECORD_STOP).Int64("play_id", int64(playID)).Msg("Can't finish recording")
		}
	}
	app.client.Cleanup()
}

// DeviceState is what API tells about configured device
type DeviceState struct {
	ID       string     `json:"id"`
	IP       string     `json:"ip"`
	Port     int        `json:"port"`
	LoginID  LoginID    `json:"login_id"`
	Online   bool       `json:"online"`
	Info     DeviceInfo `json:"info"`
	RealPlay []PlayInfo `json:"real_plays"`
}

// Devices lists configured devices with their state
func (app *Application) Devices() []DeviceState {
	ret := []DeviceState{}
	for _, id := range app.devices.ids() {
		dev, ok := app.devices.get(id)
		if !ok {
			continue
		}
		state := DeviceState{
			ID:       id,
			IP:       dev.cfg.IP,
			Port:     dev.cfg.Port,
			LoginID:  dev.loginID,
			Info:     dev.info,
			RealPlay: []PlayInfo{},
		}
		if dev.loginID != 0 {
			state.Online = app.client.IsOnline(dev.loginID)
			for _, playID := range app.client.handles.playIDs(dev.loginID) {
				if info, err := app.client.PlayInfo(playID); err == nil {
					state.RealPlay = append(state.RealPlay, info)
				}
			}
		}
		ret = append(ret, state)
	}
	return ret
}

// LoginDevice logs into configured device. Already logged in device returns its current session
func (app *Application) LoginDevice(ctx context.Context, deviceID string) (LoginID, DeviceInfo, error) {
	unlock, ok := app.devices.lockLogin(deviceID)
	if !ok {
		return 0, DeviceInfo{}, ErrDeviceNotFound
	}
	defer unlock()
	dev, ok := app.devices.get(deviceID)
	if !ok {
		return 0, DeviceInfo{}, ErrDeviceNotFound
	}
	if dev.loginID != 0 {
		return dev.loginID, dev.info, nil
	}
	loginID, info, err := app.client.LoginWithHighLevelSecurity(ctx, loginParamsFrom(dev.cfg))
	if err != nil {
		return 0, DeviceInfo{}, err
	}
	app.devices.setLogin(deviceID, loginID, info)
	return loginID, info, nil
}

// LogoutDevice stops everything opened on the device and logs out
func (app *Application) LogoutDevice(deviceID string) error {
	unlock, ok := app.devices.lockLogin(deviceID)
	if !ok {
		return ErrDeviceNotFound
	}
	defer unlock()
	dev, ok := app.devices.get(deviceID)
	if !ok {
		return ErrDeviceNotFound
	}
	if dev.loginID == 0 {
		return ErrDeviceOffline
	}
	for _, playID := range app.client.handles.playIDs(dev.loginID) {
		if _, err := app.StopRecord(context.Background(), playID); err != nil && !errors.Is(err, ErrNotRecording) {
			log.Warn().Err(err).Str("scope", SCOPE_APP).Str("event", EVENT_RECORD_STOP).Int64("play_id", int64(playID)).Msg("Can't finish recording")
		}
	}
	err := app.client.Logout(dev.loginID)
	app.devices.setLogin(deviceID, 0, DeviceInfo{})
	return err
}

// TestConnection checks configured device without logging in
func (app *Application) TestConnection(ctx context.Context, deviceID string) (DeviceInfo, error) {
	dev, ok := app.devices.get(deviceID)
	if !ok {
		return DeviceInfo{}, ErrDeviceNotFound
	}
	return app.client.TestConnection(ctx, loginParamsFrom(dev.cfg))
}

// SnapPicture captures current picture of the logged in device's channel
func (app *Application) SnapPicture(ctx context.Context, deviceID string, channel int) ([]byte, error) {
	loginID, err := app.loginID(deviceID)
	if err != nil {
		return nil, err
	}
	return app.client.SnapPicture(ctx, loginID, channel)
}

// deviceOfLogin returns identifier of the device logged in with the handle
func (app *Application) deviceOfLogin(loginID LoginID) (string, bool) {
	for _, id := range app.devices.ids() {
		if dev, ok := app.devices.get(id); ok && dev.loginID == loginID {
			return id, true
		}
	}
	return "", false
}

func (app *Application) loginID(deviceID string) (LoginID, error) {
	dev, ok := app.devices.get(deviceID)
	if !ok {
		return 0, ErrDeviceNotFound
	}
	if dev.loginID == 0 {
		return 0, ErrDeviceOffline
	}
	return dev.loginID, nil
}

// StartRealPlay opens real play on the device's channel and optionally starts recording
func (app *Application) StartRealPlay(ctx context.Context, deviceID string, channel int, playType RealPlayType, outputs []StreamType, record bool) (PlayID, error) {
	loginID, err := app.loginID(deviceID)
	if err != nil {
		return 0, err
	}
	playID, err := app.client.RealPlayEx(ctx, loginID, channel, playType, outputs...)
	if err != nil {
		return 0, err
	}
	if record {
		if _, err := app.StartRecord(playID); err != nil {
			log.Error().Err(err).Str("scope", SCOPE_APP).Str("event", EVENT_RECORD_START).Int64("play_id", int64(playID)).Msg("Can't start recording")
		}
	}
	return playID, nil
}

// StopRealPlay finishes recording (with post processing) and stops the real play
func (app *Application) StopRealPlay(ctx context.Context, playID PlayID) error {
	if _, err := app.StopRecord(ctx, playID); err != nil && !errors.Is(err, ErrNotRecording) {
		log.Warn().Err(err).Str("scope", SCOPE_APP).Str("event", EVENT_RECORD_STOP).Int64("play_id", int64(playID)).Msg("Can't finish recording")
	}
	return app.client.StopRealPlay(playID)
}

// recording is a real play being recorded into temporary file
type recording struct {
	base     string
	deviceID string
	channel  int
}

// finalBase is a name of the finished recording: '<device>_ch<N>_<yyyyMMdd_HHmmss>'
func (rec recording) finalBase(t time.Time) string {
	return fmt.Sprintf("%s_ch%d_%s", rec.deviceID, rec.channel, convert.TimestampName(t))
}

// StartRecord records real play into temporary file of the records directory
func (app *Application) StartRecord(playID PlayID) (string, error) {
	info, err := app.client.PlayInfo(playID)
	if err != nil {
		return "", err
	}
	deviceID, ok := app.deviceOfLogin(info.LoginID)
	if !ok {
		deviceID = fmt.Sprintf("login%d", info.LoginID)
	}
	rec := recording{
		base:     fmt.Sprintf("temp_%d", playID),
		deviceID: deviceID,
		channel:  info.Channel,
	}
	fileName := filepath.Join(app.recordCfg.Directory, rec.base+app.recordCfg.Extension)
	if err := app.client.SaveRealData(playID, fileName); err != nil {
		return "", err
	}
	app.recordsMu.Lock()
	app.records[playID] = rec
	app.recordsMu.Unlock()
	return fileName, nil
}

// StopRecord finishes recording, converts it, renames files to '<device>_ch<N>_<timestamp>' and uploads them (as configured).
// Existing files are never overwritten. Returns final paths of the files
func (app *Application) StopRecord(ctx context.Context, playID PlayID) ([]string, error) {
	app.recordsMu.Lock()
	rec, ok := app.records[playID]
	delete(app.records, playID)
	app.recordsMu.Unlock()
	if !ok {
		return nil, ErrNotRecording
	}
	if err := app.client.StopSaveRealData(playID); err != nil {
		return nil, err
	}
	dir := app.recordCfg.Directory
	ext := app.recordCfg.Extension
	files := []string{filepath.Join(dir, rec.base+ext)}
	exts := []string{ext}
	if app.recordCfg.Convert && !strings.EqualFold(ext, ".mp4") {
		dst := filepath.Join(dir, rec.base+".mp4")
		if err := app.converter.Convert(ctx, files[0], dst, nil); err != nil {
			log.Error().Err(err).Str("scope", SCOPE_APP).Str("event", EVENT_APP_CONVERT).Str("file", files[0]).Msg("Can't convert recording")
		} else {
			files = append(files, dst)
			exts = append(exts, ".mp4")
		}
	}
	if app.recordCfg.Rename {
		renamed, err := convert.RenamePairTo(dir, rec.base, rec.finalBase(time.Now()), exts...)
		if err != nil {
			return files, errors.Wrap(err, "Can't rename recording")
		}
		files = renamed
	}
	if app.recordCfg.Upload {
		app.upload(ctx, files)
	}
	return files, nil
}

// upload copies files into archive storage. Missing archive is not an error
func (app *Application) upload(ctx context.Context, files []string) {
	if app.archive == nil {
		log.Warn().Err(ErrNullArchive).Str("scope", SCOPE_ARCHIVE).Str("event", EVENT_ARCHIVE_UPLOAD).Strs("files", files).Msg("Archive is not configured")
		return
	}
	if err := app.archive.MakeBucket(ctx, app.bucket); err != nil {
		log.Error().Err(err).Str("scope", SCOPE_ARCHIVE).Str("event", EVENT_ARCHIVE_UPLOAD).Str("bucket", app.bucket).Msg("Can't prepare bucket")
		return
	}
	for _, file := range files {
		out, err := app.archive.UploadFile(ctx, storage.ArchiveUnit{
			Bucket:     app.bucket,
			ObjectName: filepath.Base(file),
			FileName:   file,
		})
		if err != nil {
			log.Error().Err(err).Str("scope", SCOPE_ARCHIVE).Str("event", EVENT_ARCHIVE_UPLOAD).Str("file", file).Str("storage", app.archive.Type().String()).Msg("Can't upload file")
			continue
		}
		log.Info().Str("scope", SCOPE_ARCHIVE).Str("event", EVENT_ARCHIVE_UPLOAD).Str("file", file).Str("object", out).Str("storage", app.archive.Type().String()).Msg("File has been uploaded")
	}
}

// QueryRecords searches device's records on the channel
func (app *Application) QueryRecords(ctx context.Context, deviceID string, channel int, fileType RecordFileType, start, stop NetTime, max int) ([]RecordFileInfo, error) {
	loginID, err := app.loginID(deviceID)
	if err != nil {
		return nil, err
	}
	return app.client.QueryRecordFiles(ctx, loginID, channel, fileType, start, stop, max)
}

// DownloadRequest describes what to download: single record file or everything in the range
type DownloadRequest struct {
	// Record file returned by search. Has priority over time range
	File      *RecordFileInfo `json:"file"`
	Channel   int             `json:"channel"`
	Start     NetTime         `json:"start"`
	Stop      NetTime         `json:"stop"`
	Type      RecordFileType  `json:"type"`
	SavedFile string          `json:"saved_file"`
}

// StartDownload starts download into downloads directory. Finished download is converted and uploaded as configured
func (app *Application) StartDownload(ctx context.Context, deviceID string, req DownloadRequest) (DownloadID, string, error) {
	loginID, err := app.loginID(deviceID)
	if err != nil {
		return 0, "", err
	}
	savedFile := req.SavedFile
	if savedFile == "" {
		savedFile = fmt.Sprintf("%s_ch%d_%s.dav", deviceID, req.Channel, convert.TimestampName(time.Now()))
	}
	savedFile = filepath.Join(app.downloadCfg.Directory, filepath.Base(savedFile))
	if req.File != nil {
		downloadID, err := app.client.DownloadByRecordFile(ctx, loginID, *req.File, savedFile, func(downloadID DownloadID, total, downloaded int64) {
			if downloaded == DownloadPosDone {
				app.finishDownload(savedFile)
			}
		}, nil)
		return downloadID, savedFile, err
	}
	downloadID, err := app.client.DownloadByTime(ctx, loginID, req.Channel, req.Type, req.Start, req.Stop, savedFile, func(downloadID DownloadID, total, downloaded int64, index int, info RecordFileInfo) {
		if downloaded == DownloadPosDone {
			app.finishDownload(savedFile)
		}
	}, nil)
	return downloadID, savedFile, err
}

// finishDownload runs post processing of the download in background
func (app *Application) finishDownload(savedFile string) {
	if !app.downloadCfg.Convert && !app.downloadCfg.Upload {
		return
	}
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		files := []string{savedFile}
		if app.downloadCfg.Convert {
			dst := strings.TrimSuffix(savedFile, filepath.Ext(savedFile)) + ".mp4"
			if err := app.converter.Convert(app.ctx, savedFile, dst, nil); err != nil {
				log.Error().Err(err).Str("scope", SCOPE_APP).Str("event", EVENT_APP_CONVERT).Str("file", savedFile).Msg("Can't convert download")
			} else {
				files = append(files, dst)
			}
		}
		if app.downloadCfg.Upload {
			app.upload(app.ctx, files)
		}
	}()
}

// mediaFile resolves the name inside records or downloads directory. Only base name of the argument is used
func (app *Application) mediaFile(name string) (string, error) {
	base := filepath.Base(name)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", errors.Wrapf(ErrBadFileName, "'%s'", name)
	}
	for _, dir := range []string{app.recordCfg.Directory, app.downloadCfg.Directory} {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, base)
		if st, err := os.Stat(path); err == nil && st.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", errors.Wrapf(convert.ErrSourceNotFound, "'%s'", base)
}

// Convert transcodes file of records or downloads directory. Result is placed next to the source;
// empty destination means the same name with '.mp4'
func (app *Application) Convert(ctx context.Context, src, dst string) (string, error) {
	srcPath, err := app.mediaFile(src)
	if err != nil {
		return "", err
	}
	dstBase := strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath)) + ".mp4"
	if dst != "" {
		dstBase = filepath.Base(dst)
	}
	if dstBase == "." || dstBase == ".." || dstBase == string(filepath.Separator) {
		return "", errors.Wrapf(ErrBadFileName, "'%s'", dst)
	}
	dstPath := filepath.Join(filepath.Dir(srcPath), dstBase)
	if dstPath == srcPath {
		return "", errors.Wrapf(ErrBadFileName, "destination '%s' is the source", dst)
	}
	if err := app.converter.Convert(ctx, srcPath, dstPath, nil); err != nil {
		return "", err
	}
	return dstPath, nil
}
