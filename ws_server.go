package netsdk

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/LdDl/go-netsdk/internal/hlserror"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// StartVideoServer initializes "video" server and run it (MSE-websockets and HLS-static files)
func (app *Application) StartVideoServer() {
	log.Info().Str("scope", SCOPE_WS_SERVER).Str("event", EVENT_WS_PREPARE).Msg("Preparing to start WS Server")
	router := app.videoRouter()
	pprof.Register(router)

	url := fmt.Sprintf("%s:%d", app.VideoServerCfg.Host, app.VideoServerCfg.Port)
	s := &http.Server{
		Addr:         url,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	if NewVerboseLevelFrom(app.VideoServerCfg.Verbose) > VERBOSE_NONE {
		log.Info().Str("scope", SCOPE_WS_SERVER).Str("event", EVENT_WS_START).Str("url", url).Msg("Start microservice for WS server")
	}
	err := s.ListenAndServe()
	if err != nil {
		log.Error().Err(err).Str("scope", SCOPE_WS_SERVER).Str("event", EVENT_WS_START).Str("url", url).Msg("Can't start video server routers")
		return
	}
}

func (app *Application) videoRouter() *gin.Engine {
	router := gin.New()
	wsUpgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	if app.CorsConfig != nil {
		log.Info().Str("scope", SCOPE_WS_SERVER).Str("event", EVENT_WS_CORS_ENABLE).
			Bool("cors_allow_all_origins", app.CorsConfig.AllowAllOrigins).
			Any("cors_allow_origins", app.CorsConfig.AllowOrigins).
			Msg("CORS are enabled")
		router.Use(cors.New(*app.CorsConfig))
	}
	verboseLevel := NewVerboseLevelFrom(app.VideoServerCfg.Verbose)
	router.GET("/ws/:stream_id", WebSocketWrapper(app.client, &wsUpgrader, verboseLevel))
	router.GET("/hls/:file", HLSWrapper(app.client, verboseLevel))
	return router
}

// WebSocketWrapper returns WS handler
func WebSocketWrapper(client *Client, wsUpgrader *websocket.Upgrader, verboseLevel VerboseLevel) func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		if verboseLevel > VERBOSE_SIMPLE {
			log.Info().Str("scope", SCOPE_WS_SERVER).Str("event", EVENT_WS_REQUEST).Str("method", ctx.Request.Method).Str("route", ctx.Request.URL.Path).Str("remote", ctx.Request.RemoteAddr).Msg("Try to call ws upgrader")
		}
		wshandler(wsUpgrader, ctx.Writer, ctx.Request, ctx.Param("stream_id"), client, verboseLevel)
	}
}

// streamOfFile extracts stream identifier from playlist or segment name: '<uuid>.m3u8' or '<uuid>0001.ts'
func streamOfFile(file string) (uuid.UUID, error) {
	if len(file) < 36 {
		return uuid.UUID{}, fmt.Errorf("file name '%s' is too short", file)
	}
	return uuid.Parse(file[:36])
}

// HLSWrapper returns HLS handler (static files)
func HLSWrapper(client *Client, verboseLevel VerboseLevel) func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		hlsDir := client.HLSParam().Directory
		file := ctx.Param("file")
		if verboseLevel > VERBOSE_SIMPLE {
			log.Info().Str("scope", SCOPE_WS_SERVER).Str("event", EVENT_WS_REQUEST).Str("method", ctx.Request.Method).Str("route", ctx.Request.URL.Path).Str("remote", ctx.Request.RemoteAddr).Str("hls_dir", hlsDir).Msg("Call HLS")
		}
		streamID, err := streamOfFile(file)
		if err != nil || strings.ContainsAny(file, `/\`) {
			if err == nil {
				err = fmt.Errorf("bad file name '%s'", file)
			}
			if verboseLevel > VERBOSE_NONE {
				log.Error().Err(err).Str("scope", SCOPE_WS_SERVER).Str("event", EVENT_WS_REQUEST).Str("route", ctx.Request.URL.Path).Str("remote", ctx.Request.RemoteAddr).Msg("Not valid UUID")
			}
			ctx.JSON(http.StatusBadRequest, gin.H{"Error": err.Error()})
			return
		}
		if code, err := hlserror.GetError(streamID); err != nil {
			ctx.JSON(code, gin.H{"Error": err.Error()})
			return
		}
		ctx.Header("Cache-Control", "no-cache")
		ctx.FileFromFS(file, http.Dir(hlsDir))
	}
}
