package maicai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	apiVersion = "9.49.2"
	appVersion = "2.82.0"

	defaultTradeBase = "https://maicai.api.ddxq.mobi"
	defaultUserBase  = "https://sunquan.api.ddxq.mobi"
)

// Session is the concrete platform client. All mutable state (the
// request context maps and the cart/window cache) sits behind a single
// mutex so window reads can never observe a half-committed cart.
type Session struct {
	cfg Config
	hc  *http.Client
	log *zap.Logger

	// overridable so tests can point the session at httptest servers
	tradeBase string
	userBase  string

	// mu guards everything below it: the request context maps and the
	// cart/window cache share one lock on purpose (window discovery
	// must see the cart it was computed from).
	lock     sync.Mutex
	headers  map[string]string
	params   map[string]string
	cart     map[string]any
	reserves []ReserveTime
}

// New builds a Session seeded with the applet's base headers and query
// params. The cookie is the only credential; an empty one is refused.
func New(cfg Config, log *zap.Logger) (*Session, error) {
	if cfg.Cookie == "" {
		return nil, fmt.Errorf("%w: empty cookie", ErrAuth)
	}
	if cfg.Channel == 0 {
		cfg.Channel = ChannelApp
	}
	if cfg.PayType == 0 {
		cfg.PayType = PayAlipay
	}
	clientID := strconv.Itoa(int(cfg.Channel))

	s := &Session{
		cfg: cfg,
		hc: &http.Client{
			// staleness is worse than a fast failure during a grab, so
			// keep the connect budget sub-second and the overall call
			// budget at a few seconds
			Timeout: 3 * time.Second,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 500 * time.Millisecond}).DialContext,
				TLSHandshakeTimeout:   2 * time.Second,
				ResponseHeaderTimeout: 2 * time.Second,
			},
		},
		log:       log,
		tradeBase: defaultTradeBase,
		userBase:  defaultUserBase,
	}
	s.headers = map[string]string{
		"cookie":             "DDXQSESSID=" + cfg.Cookie,
		"user-agent":         "Mozilla/5.0 (iPhone; CPU iPhone OS 11_3 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E217 MicroMessenger/6.8.0(0x16080000) NetType/WIFI Language/en Branch/Br_trunk MiniProgramEnv/Mac",
		"accept":             "application/json, text/plain, */*",
		"origin":             "https://wx.m.ddxq.mobi",
		"sec-fetch-site":     "same-site",
		"sec-fetch-mode":     "cors",
		"sec-fetch-dest":     "empty",
		"referer":            "https://wx.m.ddxq.mobi/",
		"accept-language":    "zh-CN,zh;q=0.9,en-US;q=0.8,en;q=0.7",
		"ddmc-os-version":    "undefined",
		"ddmc-channel":       "applet",
		"ddmc-api-version":   apiVersion,
		"ddmc-build-version": appVersion,
		"ddmc-app-client-id": clientID,
		"ddmc-ip":            "",
	}
	s.params = map[string]string{
		"channel":       "applet",
		"api_version":   apiVersion,
		"app_version":   appVersion,
		"app_client_id": clientID,
		"applet_source": "",
		"h5_source":     "",
		"sharer_uid":    "",
		"s_id":          "",
		"openid":        "",
		"device_token":  "",
		"nars":          "",
		"sesi":          "",
	}
	return s, nil
}

// snapshot copies the request context under the lock so an in-flight
// call never sees a concurrent header/param mutation.
func (s *Session) snapshot() (headers, params map[string]string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	headers = make(map[string]string, len(s.headers))
	for k, v := range s.headers {
		headers[k] = v
	}
	params = make(map[string]string, len(s.params))
	for k, v := range s.params {
		params[k] = v
	}
	return headers, params
}

func (s *Session) hasParam(key string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, ok := s.params[key]
	return ok
}

// get issues a GET against base+path with the base params merged under
// extra (extra wins on collision) and the base headers attached.
func (s *Session) get(ctx context.Context, base, path string, extra map[string]string) ([]byte, error) {
	headers, params := s.snapshot()
	for k, v := range extra {
		params[k] = v
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	applyHeaders(req, headers, base)
	return s.send(req)
}

// postForm issues a POST with the merged params as an urlencoded body.
func (s *Session) postForm(ctx context.Context, base, path string, extra map[string]string) ([]byte, error) {
	headers, params := s.snapshot()
	for k, v := range extra {
		params[k] = v
	}
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded")
	applyHeaders(req, headers, base)
	return s.send(req)
}

func (s *Session) send(req *http.Request) ([]byte, error) {
	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// applyHeaders sets the base header map, overriding Host to match
// whichever platform host the request targets.
func applyHeaders(req *http.Request, headers map[string]string, base string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		req.Host = u.Host
	}
}

// envelope is the platform's uniform response wrapper. Pointer fields
// distinguish absent from zero during validation.
type envelope struct {
	Success *bool           `json:"success"`
	Code    *int            `json:"code"`
	Msg     *string         `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

// decodeEnvelope enforces the response contract: the body must parse,
// must carry the boolean success indicator, and must carry data on
// success or code+msg on failure. Any violation is ErrBadResponse: a
// failed call, never a crash.
func decodeEnvelope(body []byte) (*envelope, error) {
	var e envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if e.Success == nil {
		return nil, fmt.Errorf("%w: no success field", ErrBadResponse)
	}
	if !*e.Success && (e.Code == nil || e.Msg == nil) {
		return nil, fmt.Errorf("%w: failure without code/msg", ErrBadResponse)
	}
	if *e.Success && len(e.Data) == 0 {
		return nil, fmt.Errorf("%w: success without data", ErrBadResponse)
	}
	return &e, nil
}

func (e *envelope) code() int {
	if e.Code == nil {
		return 0
	}
	return *e.Code
}

func (e *envelope) msg() string {
	if e.Msg == nil {
		return ""
	}
	return *e.Msg
}

var errEnvelope = errors.New("maicai: platform reported failure")

// platformError wraps a well-formed failure response so callers can log
// the platform's own code and message.
func platformError(e *envelope) error {
	return fmt.Errorf("%w: code=%d msg=%q", errEnvelope, e.code(), e.msg())
}
