package netsdk

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRecord struct {
	path  string
	start string
	end   string
	data  []byte
}

// fakeDevice serves CGI endpoints the way NVR firmwares do
type fakeDevice struct {
	sync.Mutex
	server   *httptest.Server
	channels int
	records  []fakeRecord
	// Answer 401 with digest challenge on every request
	denyAll bool
	// Answer 'Error' on findFile
	noRecords bool
	// Hold downloads until closed
	holdDownload chan struct{}
	// Answer 503 on heartbeats
	offline bool
	// Never answer ONVIF requests
	hangOnvif bool
	// Picture served by snapshot.cgi. Nil means 404
	snapshot []byte
	// Content type of the picture, 'image/jpeg' when empty
	snapshotType string
	// Firmware knows only the default snapshot without channel
	snapshotDefaultOnly bool

	requests  []string
	findPos   int
	destroyed int
}

func newFakeDevice(t *testing.T) *fakeDevice {
	fd := &fakeDevice{channels: 4}
	fd.server = httptest.NewServer(http.HandlerFunc(fd.serve))
	t.Cleanup(fd.server.Close)
	return fd
}

func (fd *fakeDevice) loginParams(t *testing.T) LoginParams {
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(fd.server.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return LoginParams{
		IP:       host,
		Port:     port,
		Username: "admin",
		Password: "admin123",
	}
}

func (fd *fakeDevice) requested(prefix string) int {
	fd.Lock()
	defer fd.Unlock()
	n := 0
	for _, r := range fd.requests {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

func (fd *fakeDevice) serve(w http.ResponseWriter, r *http.Request) {
	fd.Lock()
	fd.requests = append(fd.requests, r.URL.RequestURI())
	denyAll := fd.denyAll
	offline := fd.offline
	hangOnvif := fd.hangOnvif
	fd.Unlock()
	if hangOnvif && strings.HasPrefix(r.URL.Path, "/onvif/") {
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
		return
	}
	if denyAll {
		w.Header().Set("WWW-Authenticate", `Digest realm="Login to fake", qop="auth", nonce="3c1bb9e5a8f2", opaque=""`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	q := r.URL.Query()
	switch {
	case r.URL.Path == "/cgi-bin/magicBox.cgi":
		switch q.Get("action") {
		case "getDeviceType":
			fmt.Fprint(w, "type=DH-XVR5108HS\r\n")
		case "getSerialNo":
			fmt.Fprint(w, "sn=4M0123PAZ00001\r\n")
		case "getMachineName":
			fmt.Fprint(w, "name=XVR\r\n")
		case "getSoftwareVersion":
			fmt.Fprint(w, "version=4.001.0000000.1,build:2021-01-01\r\n")
		default:
			http.NotFound(w, r)
		}
	case r.URL.Path == "/cgi-bin/devVideoInput.cgi":
		fmt.Fprintf(w, "result=%d\r\n", fd.channels)
	case r.URL.Path == "/cgi-bin/global.cgi":
		if offline {
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "result=2024-03-01 10:00:00\r\n")
	case r.URL.Path == "/cgi-bin/snapshot.cgi":
		fd.serveSnapshot(w, r)
	case r.URL.Path == "/cgi-bin/mediaFileFind.cgi":
		fd.serveFind(w, q.Get("action"), q)
	case strings.HasPrefix(r.URL.Path, "/cgi-bin/RPC_Loadfile"):
		path := strings.TrimPrefix(r.URL.Path, "/cgi-bin/RPC_Loadfile")
		for _, rec := range fd.records {
			if rec.path == path {
				fd.writeData(w, rec.data)
				return
			}
		}
		http.NotFound(w, r)
	case r.URL.Path == "/cgi-bin/loadfile.cgi":
		data := []byte{}
		for _, rec := range fd.records {
			data = append(data, rec.data...)
		}
		fd.writeData(w, data)
	default:
		http.NotFound(w, r)
	}
}

func (fd *fakeDevice) setOffline(offline bool) {
	fd.Lock()
	fd.offline = offline
	fd.Unlock()
}

func (fd *fakeDevice) serveSnapshot(w http.ResponseWriter, r *http.Request) {
	fd.Lock()
	data := fd.snapshot
	contentType := fd.snapshotType
	defaultOnly := fd.snapshotDefaultOnly
	fd.Unlock()
	if data == nil || (defaultOnly && r.URL.Query().Has("channel")) {
		http.NotFound(w, r)
		return
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// testPicture returns JPEG-looking data of the size
func testPicture(size int) []byte {
	data := make([]byte, size)
	copy(data, []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00})
	for i := 11; i < size; i++ {
		data[i] = byte(i % 199)
	}
	return data
}

func (fd *fakeDevice) writeData(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if fd.holdDownload != nil {
		half := len(data) / 2
		w.Write(data[:half])
		w.(http.Flusher).Flush()
		select {
		case <-fd.holdDownload:
		case <-time.After(5 * time.Second):
		}
		w.Write(data[half:])
		return
	}
	w.Write(data)
}

func (fd *fakeDevice) serveFind(w http.ResponseWriter, action string, q map[string][]string) {
	fd.Lock()
	defer fd.Unlock()
	switch action {
	case "factory.create":
		fmt.Fprint(w, "result=308992\r\n")
	case "findFile":
		if fd.noRecords {
			fmt.Fprint(w, "Error\r\n")
			return
		}
		fd.findPos = 0
		fmt.Fprint(w, "OK\r\n")
	case "findNextFile":
		count, _ := strconv.Atoi(q["count"][0])
		var sb strings.Builder
		n := 0
		for fd.findPos < len(fd.records) && n < count {
			rec := fd.records[fd.findPos]
			sb.WriteString(fmt.Sprintf("items[%d].Channel=1\r\n", n))
			sb.WriteString(fmt.Sprintf("items[%d].StartTime=%s\r\n", n, rec.start))
			sb.WriteString(fmt.Sprintf("items[%d].EndTime=%s\r\n", n, rec.end))
			sb.WriteString(fmt.Sprintf("items[%d].FilePath=%s\r\n", n, rec.path))
			sb.WriteString(fmt.Sprintf("items[%d].Length=%d\r\n", n, len(rec.data)))
			sb.WriteString(fmt.Sprintf("items[%d].Disk=2\r\n", n))
			sb.WriteString(fmt.Sprintf("items[%d].VideoStream=Main\r\n", n))
			sb.WriteString(fmt.Sprintf("items[%d].Flags[0]=Timing\r\n", n))
			fd.findPos++
			n++
		}
		fmt.Fprintf(w, "found=%d\r\n%s", n, sb.String())
	case "close":
		fmt.Fprint(w, "OK\r\n")
	case "destroy":
		fd.destroyed++
		fmt.Fprint(w, "OK\r\n")
	default:
		fmt.Fprint(w, "Error\r\n")
	}
}

// loggedIn returns initialized client with session on the fake device
func loggedIn(t *testing.T, fd *fakeDevice) (*Client, LoginID) {
	client := NewClient()
	require.NoError(t, client.Init(nil))
	client.SetConnectTime(2*time.Second, 1)
	t.Cleanup(client.Cleanup)
	loginID, _, err := client.LoginWithHighLevelSecurity(context.Background(), fd.loginParams(t))
	require.NoError(t, err)
	return client, loginID
}

// H.264 parameter sets of 1920x1080 stream
var (
	testSPS = []byte{
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
		0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
		0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9, 0x20,
	}
	testPPS = []byte{0x68, 0xce, 0x3c, 0x80}
)

// fakeRTSP answers RTSP handshake with H.264 description and closes the connection right after PLAY
type fakeRTSP struct {
	listener net.Listener
	played   atomic.Int32
}

func newFakeRTSP(t *testing.T) *fakeRTSP {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fr := &fakeRTSP{listener: listener}
	t.Cleanup(func() {
		listener.Close()
	})
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go fr.serve(conn)
		}
	}()
	return fr
}

func (fr *fakeRTSP) port() int {
	return fr.listener.Addr().(*net.TCPAddr).Port
}

func (fr *fakeRTSP) serve(conn net.Conn) {
	defer conn.Close()
	reader := textproto.NewReader(bufio.NewReader(conn))
	sdp := "v=0\r\n" +
		"o=- 0 0 IN IP4 127.0.0.1\r\n" +
		"s=Media Server\r\n" +
		"t=0 0\r\n" +
		"m=video 0 RTP/AVP 96\r\n" +
		"a=rtpmap:96 H264/90000\r\n" +
		"a=fmtp:96 packetization-mode=1;sprop-parameter-sets=" + base64.StdEncoding.EncodeToString(testSPS) + "," + base64.StdEncoding.EncodeToString(testPPS) + "\r\n" +
		"a=control:trackID=0\r\n"
	for {
		line, err := reader.ReadLine()
		if err != nil {
			return
		}
		header, err := reader.ReadMIMEHeader()
		if err != nil {
			return
		}
		cseq := header.Get("Cseq")
		switch strings.SplitN(line, " ", 2)[0] {
		case "OPTIONS":
			fmt.Fprintf(conn, "RTSP/1.0 200 OK\r\nCSeq: %s\r\nPublic: OPTIONS, DESCRIBE, SETUP, PLAY, TEARDOWN\r\n\r\n", cseq)
		case "DESCRIBE":
			fmt.Fprintf(conn, "RTSP/1.0 200 OK\r\nCSeq: %s\r\nContent-Type: application/sdp\r\nContent-Length: %d\r\n\r\n%s", cseq, len(sdp), sdp)
		case "SETUP":
			fmt.Fprintf(conn, "RTSP/1.0 200 OK\r\nCSeq: %s\r\nTransport: RTP/AVP/TCP;unicast;interleaved=0-1\r\nSession: 12345678;timeout=60\r\n\r\n", cseq)
		case "PLAY":
			fmt.Fprintf(conn, "RTSP/1.0 200 OK\r\nCSeq: %s\r\nSession: 12345678\r\n\r\n", cseq)
			fr.played.Add(1)
			// Stream ends at once
			return
		default:
			return
		}
	}
}
