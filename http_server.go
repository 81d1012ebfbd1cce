package netsdk

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/LdDl/go-netsdk/convert"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// StartAPIServer initializes REST API server and run it
func (app *Application) StartAPIServer() {
	log.Info().Str("scope", SCOPE_API_SERVER).Str("event", EVENT_API_PREPARE).Msg("Preparing to start API Server")
	router := app.apiRouter()
	pprof.Register(router)

	url := fmt.Sprintf("%s:%d", app.APICfg.Host, app.APICfg.Port)
	s := &http.Server{
		Addr:         url,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	if NewVerboseLevelFrom(app.APICfg.Verbose) > VERBOSE_NONE {
		log.Info().Str("scope", SCOPE_API_SERVER).Str("event", EVENT_API_START).Str("url", url).Msg("Start microservice for API server")
	}
	err := s.ListenAndServe()
	if err != nil {
		log.Error().Err(err).Str("scope", SCOPE_API_SERVER).Str("event", EVENT_API_START).Str("url", url).Msg("Can't start API server routers")
		return
	}
}

func (app *Application) apiRouter() *gin.Engine {
	router := gin.New()
	if app.CorsConfig != nil {
		log.Info().Str("scope", SCOPE_API_SERVER).Str("event", EVENT_API_CORS_ENABLE).
			Bool("cors_allow_all_origins", app.CorsConfig.AllowAllOrigins).
			Any("cors_allow_origins", app.CorsConfig.AllowOrigins).
			Any("cors_allow_methods", app.CorsConfig.AllowMethods).
			Any("cors_allow_headers", app.CorsConfig.AllowHeaders).
			Bool("cors_allow_credentials", app.CorsConfig.AllowCredentials).
			Any("cors_expose_headers", app.CorsConfig.ExposeHeaders).
			Msg("CORS are enabled")
		router.Use(cors.New(*app.CorsConfig))
	}
	verboseLevel := NewVerboseLevelFrom(app.APICfg.Verbose)
	router.Use(requestLogger(verboseLevel))

	router.GET("/devices", DevicesWrapper(app))
	router.POST("/devices/:device_id/login", LoginWrapper(app))
	router.POST("/devices/:device_id/logout", LogoutWrapper(app))
	router.POST("/devices/:device_id/test-connection", TestConnectionWrapper(app))
	router.GET("/devices/:device_id/snapshot", SnapshotWrapper(app))
	router.POST("/devices/:device_id/realplay", RealPlayWrapper(app))
	router.GET("/devices/:device_id/records", RecordsWrapper(app))
	router.POST("/devices/:device_id/downloads", DownloadWrapper(app))

	router.GET("/realplay/:play_id", PlayInfoWrapper(app))
	router.DELETE("/realplay/:play_id", StopRealPlayWrapper(app))
	router.POST("/realplay/:play_id/record", StartRecordWrapper(app))
	router.DELETE("/realplay/:play_id/record", StopRecordWrapper(app))

	router.GET("/downloads/:download_id", DownloadStatusWrapper(app))
	router.DELETE("/downloads/:download_id", StopDownloadWrapper(app))

	router.POST("/convert", ConvertWrapper(app))
	return router
}

func requestLogger(verboseLevel VerboseLevel) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if verboseLevel > VERBOSE_SIMPLE {
			log.Info().Str("scope", SCOPE_API_SERVER).Str("event", EVENT_API_REQUEST).Str("method", ctx.Request.Method).Str("route", ctx.Request.URL.Path).Str("remote", ctx.Request.RemoteAddr).Msg("Request")
		}
		ctx.Next()
	}
}

// httpStatusOf maps client errors to HTTP statuses
func httpStatusOf(err error) int {
	switch {
	case errors.Is(err, ErrDeviceNotFound), errors.Is(err, convert.ErrSourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadFileName):
		return http.StatusBadRequest
	case errors.Is(err, ErrDeviceOffline), errors.Is(err, ErrNotRecording):
		return http.StatusConflict
	}
	switch CodeOf(err) {
	case ErrCodeInvalidHandle, ErrCodeNoRecordFound:
		return http.StatusNotFound
	case ErrCodeIllegalParam:
		return http.StatusBadRequest
	case ErrCodeLoginPassword, ErrCodeLoginUser, ErrCodeLoginLocked:
		return http.StatusUnauthorized
	case ErrCodeRecordBusy:
		return http.StatusConflict
	case ErrCodeLoginConnect, ErrCodeLoginNetwork, ErrCodeLoginTimeout, ErrCodeNetwork, ErrCodeDeviceResponse, ErrCodeOpenChannel:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(ctx *gin.Context, err error) {
	code := CodeOf(err)
	log.Error().Err(err).Str("scope", SCOPE_API_SERVER).Str("event", EVENT_API_REQUEST).Str("method", ctx.Request.Method).Str("route", ctx.Request.URL.Path).Str("remote", ctx.Request.RemoteAddr).Msg("Request failed")
	ctx.JSON(httpStatusOf(err), gin.H{"Error": err.Error(), "code": fmt.Sprintf("%x", uint32(code))})
}

func badRequest(ctx *gin.Context, err error) {
	ctx.JSON(http.StatusBadRequest, gin.H{"Error": err.Error()})
}

func paramInt64(ctx *gin.Context, name string) (int64, error) {
	value, err := strconv.ParseInt(ctx.Param(name), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "Bad '%s'", name)
	}
	return value, nil
}

// DevicesWrapper returns list of configured devices
func DevicesWrapper(app *Application) func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, app.Devices())
	}
}

// LoginWrapper logs into device
func LoginWrapper(app *Application) func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		loginID, info, err := app.LoginDevice(ctx.Request.Context(), ctx.Param("device_id"))
		if err != nil {
			abortWithError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"login_id": loginID, "info": info})
	}
}

// LogoutWrapper logs out of device
func LogoutWrapper(app *Application) func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		if err := app.LogoutDevice(ctx.Param("device_id")); err != nil {
			abortWithError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"message": "ok"})
	}
}

// TestConnectionWrapper checks that configured device is reachable with its credentials
func TestConnectionWrapper(app *Application) func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		info, err := app.TestConnection(ctx.Request.Context(), ctx.Param("device_id"))
		if err != nil {
			abortWithError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"success": true, "status": "online", "info": info})
	}
}

// SnapshotWrapper returns current picture of the channel. Query: channel (zero based)
func SnapshotWrapper(app *Application) func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		channel, err := strconv.Atoi(ctx.DefaultQuery("channel", "0"))
		if err != nil {
			badRequest(ctx, errors.Wrap(err, "Bad 'channel'"))
			return
		}
		data, err := app.SnapPicture(ctx.Request.Context(), ctx.Param("device_id"), channel)
		if err != nil {
			abortWithError(ctx, err)
			return
		}
		ctx.Header("Cache-Control", "no-cache")
		ctx.Data(http.StatusOK, http.DetectContentType(data), data)
	}
}

// RealPlayRequest is a body of real play request
type RealPlayRequest struct {
	Channel     int      `json:"channel"`
	Type        string   `json:"type"`
	OutputTypes []string `json:"output_types"`
	Record      bool     `json:"record"`
}

// RealPlayWrapper starts real play on device
func RealPlayWrapper(app *Application) func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		req := RealPlayRequest{}
		if err := ctx.ShouldBindJSON(&req); err != nil {
			badRequest(ctx, err)
			return
		}
		if req.Type == "" {
			req.Type = RealPlayMain.String()
		}
		playType, ok := NewRealPlayTypeFrom(req.Type)
		if !ok {
			badRequest(ctx, errors.Errorf("Not supported real play type '%s'", req.Type))
			return
		}
		outputs, err := parseOutputs(req.OutputTypes)
		if err != nil {
			badRequest(ctx, err)
			return
		}
		playID, err := app.StartRealPlay(ctx.Request.Context(), ctx.Param("device_id"), req.Channel, playType, outputs, req.Record)
		if err != nil {
			abortWithError(ctx, err)
			return
		}
		info, err := app.client.PlayInfo(playID)
		if err != nil {
			abortWithError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, info)
	}
}

// PlayInfoWrapper returns state of real play
func PlayInfoWrapper(app *Application) func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		playID, err := paramInt64(ctx, "play_id")
		if err != nil {
			badRequest(ctx, err)
			return
		}
		info, err := app.client.PlayInfo(PlayID(playID))
		if err != nil {
			abortWithError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, info)
	}
}

// StopRealPlayWrapper stops real play
func StopRealPlayWrapper(app *Application) func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		playID, err := paramInt64(ctx, "play_id")
		if err != nil {
			badRequest(ctx, err)
			return
		}
		if err := app.StopRealPlay(ctx.Request.Context(), PlayID(playID)); err != nil {
			abortWithError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"message": "ok"})
	}
}

// StartRecordWrapper starts local recording of real play
func StartRecordWrapper(app *Application) func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		playID, err := paramInt64(ctx, "play_id")
		if err != nil {
			badRequest(ctx, err)
			return
		}
		fileName, err := app.StartRecord(PlayID(playID))
		if err != nil {
			abortWithError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"file": fileName})
	}
}

// StopRecordWrapper finishes local recording of real play
func StopRecordWrapper(app *Application) func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		playID, err := paramInt64(ctx, "play_id")
		if err != nil {
			badRequest(ctx, err)
			return
		}
		files, err := app.StopRecord(ctx.Request.Context(), PlayID(playID))
		if err != nil {
			abortWithError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"files": files})
	}
}

func queryNetTime(ctx *gin.Context, name string) (NetTime, error) {
	str := ctx.Query(name)
	if str == "" {
		return NetTime{}, errors.Errorf("Empty '%s'", name)
	}
	return ParseNetTime(str)
}

// RecordsWrapper searches records on device. Query: channel, type, start, stop ("2006-01-02 15:04:05"), max
func RecordsWrapper(app *Application) func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		channel, err := strconv.Atoi(ctx.DefaultQuery("channel", "0"))
		if err != nil {
			badRequest(ctx, errors.Wrap(err, "Bad 'channel'"))
			return
		}
		fileType, ok := NewRecordFileTypeFrom(ctx.Query("type"))
		if !ok {
			badRequest(ctx, errors.Errorf("Not supported record type '%s'", ctx.Query("type")))
			return
		}
		start, err := queryNetTime(ctx, "start")
		if err != nil {
			badRequest(ctx, err)
			return
		}
		stop, err := queryNetTime(ctx, "stop")
		if err != nil {
			badRequest(ctx, err)
			return
		}
		max, err := strconv.Atoi(ctx.DefaultQuery("max", strconv.Itoa(MaxRecordFileCount)))
		if err != nil {
			badRequest(ctx, errors.Wrap(err, "Bad 'max'"))
			return
		}
		files, err := app.QueryRecords(ctx.Request.Context(), ctx.Param("device_id"), channel, fileType, start, stop, max)
		if err != nil {
			abortWithError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, files)
	}
}

// DownloadBody is a body of download request. Either 'file' or time range must be provided
type DownloadBody struct {
	File      *RecordFileInfo `json:"file"`
	Channel   int             `json:"channel"`
	Type      string          `json:"type"`
	Start     string          `json:"start"`
	Stop      string          `json:"stop"`
	SavedFile string          `json:"saved_file"`
}

// DownloadWrapper starts download of record file or time range
func DownloadWrapper(app *Application) func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		body := DownloadBody{}
		if err := ctx.ShouldBindJSON(&body); err != nil {
			badRequest(ctx, err)
			return
		}
		req := DownloadRequest{
			File:      body.File,
			Channel:   body.Channel,
			SavedFile: body.SavedFile,
		}
		if req.File == nil {
			fileType, ok := NewRecordFileTypeFrom(body.Type)
			if !ok {
				badRequest(ctx, errors.Errorf("Not supported record type '%s'", body.Type))
				return
			}
			req.Type = fileType
			var err error
			if req.Start, err = ParseNetTime(body.Start); err != nil {
				badRequest(ctx, err)
				return
			}
			if req.Stop, err = ParseNetTime(body.Stop); err != nil {
				badRequest(ctx, err)
				return
			}
		}
		downloadID, savedFile, err := app.StartDownload(app.ctx, ctx.Param("device_id"), req)
		if err != nil {
			abortWithError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"download_id": downloadID, "file": savedFile})
	}
}

// DownloadStatusWrapper returns progress of download
func DownloadStatusWrapper(app *Application) func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		downloadID, err := paramInt64(ctx, "download_id")
		if err != nil {
			badRequest(ctx, err)
			return
		}
		status, err := app.client.DownloadStatus(DownloadID(downloadID))
		if err != nil {
			abortWithError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, status)
	}
}

// StopDownloadWrapper stops download
func StopDownloadWrapper(app *Application) func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		downloadID, err := paramInt64(ctx, "download_id")
		if err != nil {
			badRequest(ctx, err)
			return
		}
		if err := app.client.StopDownload(DownloadID(downloadID)); err != nil {
			abortWithError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"message": "ok"})
	}
}

// ConvertBody is a body of convert request
type ConvertBody struct {
	Source      string `json:"source" binding:"required"`
	Destination string `json:"destination"`
}

// ConvertWrapper transcodes file of records or downloads directory into MP4. Names are taken without directories
func ConvertWrapper(app *Application) func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		body := ConvertBody{}
		if err := ctx.ShouldBindJSON(&body); err != nil {
			badRequest(ctx, err)
			return
		}
		dst, err := app.Convert(ctx.Request.Context(), body.Source, body.Destination)
		if err != nil {
			abortWithError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"file": dst})
	}
}
