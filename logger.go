package netsdk

const (
	SCOPE_SDK           = "sdk"
	SCOPE_SESSION       = "session"
	SCOPE_REALPLAY      = "realplay"
	SCOPE_RECORD        = "record"
	SCOPE_FIND          = "find_file"
	SCOPE_DOWNLOAD      = "download"
	SCOPE_HLS           = "hls"
	SCOPE_ARCHIVE       = "archive"
	SCOPE_CONVERT       = "convert"
	SCOPE_WS_HANDLER    = "ws_handler"
	SCOPE_API_SERVER    = "api_server"
	SCOPE_WS_SERVER     = "ws_server"
	SCOPE_APP           = "app"
	SCOPE_DEVICE_HTTP   = "device_http"
	SCOPE_CONFIGURATION = "configuration"

	EVENT_SDK_INIT    = "sdk_init"
	EVENT_SDK_CLEANUP = "sdk_cleanup"

	EVENT_SESSION_LOGIN      = "session_login"
	EVENT_SESSION_LOGIN_FAIL = "session_login_fail"
	EVENT_SESSION_LOGOUT     = "session_logout"
	EVENT_SESSION_HEARTBEAT  = "session_heartbeat"
	EVENT_SESSION_DISCONNECT = "session_disconnect"
	EVENT_SESSION_RECONNECT  = "session_reconnect"
	EVENT_SESSION_ONVIF      = "session_onvif"
	EVENT_SESSION_SNAPSHOT   = "session_snapshot"
	EVENT_SESSION_TEST       = "session_test_connection"

	EVENT_REALPLAY_DIAL        = "realplay_dialing"
	EVENT_REALPLAY_CODEC_MET   = "realplay_codec_met"
	EVENT_REALPLAY_CODEC_UPD   = "realplay_codec_update_signal"
	EVENT_REALPLAY_STOP_SIGNAL = "realplay_stop_signal"
	EVENT_REALPLAY_NO_VIDEO    = "realplay_no_video"
	EVENT_REALPLAY_RESTART     = "realplay_restart"
	EVENT_REALPLAY_STOP        = "realplay_stop"
	EVENT_REALPLAY_HLS_REQ     = "realplay_hls_req"

	EVENT_RECORD_START = "record_start"
	EVENT_RECORD_STOP  = "record_stop"
	EVENT_RECORD_WRITE = "record_write"

	EVENT_FIND_CREATE = "find_create"
	EVENT_FIND_NEXT   = "find_next"
	EVENT_FIND_CLOSE  = "find_close"

	EVENT_DOWNLOAD_START    = "download_start"
	EVENT_DOWNLOAD_PROGRESS = "download_progress"
	EVENT_DOWNLOAD_DONE     = "download_done"
	EVENT_DOWNLOAD_FAIL     = "download_fail"
	EVENT_DOWNLOAD_STOP     = "download_stop"

	EVENT_HLS_START_CAST = "hls_start_cast"
	EVENT_HLS_PLAYLIST   = "hls_playlist"
	EVENT_HLS_CLEANUP    = "hls_cleanup"

	EVENT_ARCHIVE_UPLOAD = "archive_upload"

	EVENT_API_PREPARE     = "api_server_prepare"
	EVENT_API_START       = "api_server_start"
	EVENT_API_CORS_ENABLE = "api_server_cors_enable"
	EVENT_API_REQUEST     = "api_request"

	EVENT_WS_PREPARE     = "ws_server_prepare"
	EVENT_WS_START       = "ws_server_start"
	EVENT_WS_CORS_ENABLE = "ws_server_cors_enable"
	EVENT_WS_REQUEST     = "ws_request"
	EVENT_WS_UPGRADER    = "ws_upgrader"

	EVENT_APP_DEVICE_LOGIN = "app_device_login"
	EVENT_APP_REALPLAY     = "app_realplay"
	EVENT_APP_CONVERT      = "app_convert"
)
