package netsdk

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/icholy/digest"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding/simplifiedchinese"
)

const (
	maxCGIResponseBytes = 4 << 20
)

// httpStatusError is a non-2xx answer of device's CGI
type httpStatusError struct {
	StatusCode int
	Status     string
	Path       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("device responded '%s' on '%s'", e.Status, e.Path)
}

// deviceHTTP is a digest authenticated client for device's CGI interface
type deviceHTTP struct {
	baseURL string
	client  *http.Client
	verbose VerboseLevel
}

func newDeviceHTTP(ip string, port int, username, password string, connectTimeout time.Duration, verbose VerboseLevel) *deviceHTTP {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 0,
	}
	return &deviceHTTP{
		baseURL: fmt.Sprintf("http://%s", net.JoinHostPort(ip, strconv.Itoa(port))),
		client: &http.Client{
			Transport: &digest.Transport{
				Username:  username,
				Password:  password,
				Transport: transport,
			},
		},
		verbose: verbose,
	}
}

// open performs GET request and returns response with 2xx status. Caller must close the body
func (d *deviceHTTP) open(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't prepare request '%s'", path)
	}
	if d.verbose > VERBOSE_SIMPLE {
		log.Info().Str("scope", SCOPE_DEVICE_HTTP).Str("event", EVENT_API_REQUEST).Str("url", d.baseURL).Str("path", path).Msg("Call device")
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Status: resp.Status, Path: path}
	}
	return resp, nil
}

// get performs GET request and returns text body. GBK encoded answers (older firmwares) are converted to UTF-8
func (d *deviceHTTP) get(ctx context.Context, path string) (string, error) {
	resp, err := d.open(ctx, path)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCGIResponseBytes))
	if err != nil {
		return "", errors.Wrapf(err, "Can't read response for '%s'", path)
	}
	body := decodeDeviceText(data)
	if strings.HasPrefix(strings.TrimSpace(body), "Error") {
		return "", &httpStatusError{StatusCode: http.StatusBadRequest, Status: strings.TrimSpace(body), Path: path}
	}
	return body, nil
}

func decodeDeviceText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}

// classifyError maps transport errors to client error codes
func classifyError(err error, login bool) ErrorCode {
	if err == nil {
		return ErrCodeNone
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusUnauthorized:
			return ErrCodeLoginPassword
		case http.StatusForbidden:
			if login {
				return ErrCodeLoginLocked
			}
			return ErrCodeDeviceResponse
		case http.StatusNotFound, http.StatusNotImplemented:
			return ErrCodeNotSupported
		default:
			return ErrCodeDeviceResponse
		}
	}
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	var opErr *net.OpError
	refused := errors.As(err, &opErr) && opErr.Op == "dial"
	switch {
	case login && timeout:
		return ErrCodeLoginTimeout
	case login && refused:
		return ErrCodeLoginConnect
	case login:
		return ErrCodeLoginNetwork
	default:
		return ErrCodeNetwork
	}
}

// cgiValue returns the value of "key=value" answer (the first line)
func cgiValue(body string) string {
	body = strings.TrimSpace(body)
	if idx := strings.IndexAny(body, "\r\n"); idx >= 0 {
		body = body[:idx]
	}
	idx := strings.Index(body, "=")
	if idx < 0 {
		return strings.TrimSpace(body)
	}
	return strings.TrimSpace(body[idx+1:])
}

// cgiValues parses multiline "key=value" answer. Values may contain '='
func cgiValues(body string) map[string]string {
	ret := make(map[string]string)
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		ret[strings.TrimSpace(line[:idx])] = strings.TrimSpace(line[idx+1:])
	}
	return ret
}

// cgiItems groups "items[N].Field=value" keys by N. Result is sorted by index
func cgiItems(values map[string]string, prefix string) []map[string]string {
	grouped := make(map[int]map[string]string)
	for k, v := range values {
		if !strings.HasPrefix(k, prefix+"[") {
			continue
		}
		rest := k[len(prefix)+1:]
		closeIdx := strings.Index(rest, "]")
		if closeIdx < 0 {
			continue
		}
		idx, err := strconv.Atoi(rest[:closeIdx])
		if err != nil {
			continue
		}
		field := strings.TrimPrefix(rest[closeIdx+1:], ".")
		if field == "" {
			continue
		}
		if grouped[idx] == nil {
			grouped[idx] = make(map[string]string)
		}
		grouped[idx][field] = v
	}
	indices := make([]int, 0, len(grouped))
	for idx := range grouped {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	ret := make([]map[string]string, 0, len(indices))
	for _, idx := range indices {
		ret = append(ret, grouped[idx])
	}
	return ret
}
