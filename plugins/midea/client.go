package midea

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joshp123/midea/internal/rate"
)

const (
	appID       = "1017"
	formatJSON  = "2"
	clientType  = "1" // android
	language    = "en_US"
	src         = "17"
	stampLayout = "20060102150405"
	successCode = "0"
	funID       = "0000"
	maxAttempts = 3

	endpointLoginID         = "user/login/id/get"
	endpointLogin           = "user/login"
	endpointHomeGroups      = "homegroup/list/get"
	endpointAppliances      = "appliance/list/get"
	endpointTransparentSend = "appliance/transparent/send"
)

// HTTPStatusError surfaces non-2xx replies from the cloud gateway.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("midea http %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// Client talks to the Midea cloud on behalf of one account. It is safe for
// concurrent use by many appliances.
type Client struct {
	cfg        Config
	httpClient *http.Client
	security   Security
	classifier Classifier
	now        func() time.Time
	loginID    string

	// apiMu serializes request assembly and transmission.
	apiMu sync.Mutex
	// loginMu serializes session establishment.
	loginMu sync.Mutex

	mu          sync.RWMutex
	session     *Session
	homeGroups  []HomeGroup
	appliances  []Appliance
	inventoryAt time.Time

	retries atomic.Int32
}

type apiResponse struct {
	ErrorCode flexString      `json:"errorCode"`
	Msg       string          `json:"msg"`
	Result    json.RawMessage `json:"result"`
}

// apiCall describes one logical request. params is rebuilt on every attempt so
// session-bound values (encrypted orders) follow the session actually used.
type apiCall struct {
	endpoint    string
	params      func(*Session) (map[string]string, error)
	needSession bool
	relogin     bool
	// establishing marks session setup calls; their success does not reset
	// the retry counter of the call that triggered them.
	establishing bool
}

// NewClient builds a client and resolves the account login id. A client is
// never returned without one.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	security := cfg.Security
	if security == nil {
		security = NewSigner(cfg.AppKey)
	}
	classifier := DefaultClassifier()
	if cfg.Classifier != nil {
		classifier = *cfg.Classifier
	}

	decl := rate.Provider("midea").
		MaxRequestsPer(rate.Minute, cfg.RequestsPerMinute).
		CooldownOnThrottle(time.Minute)

	c := &Client{
		cfg:        cfg,
		httpClient: rate.WrapHTTP(decl, &http.Client{Timeout: cfg.Timeout}),
		security:   security,
		classifier: classifier,
		now:        time.Now,
	}

	loginID, err := c.fetchLoginID(ctx)
	if err != nil {
		return nil, ConstructionError{Err: err}
	}
	c.loginID = loginID
	return c, nil
}

func (c *Client) fetchLoginID(ctx context.Context) (string, error) {
	result, _, err := c.call(ctx, apiCall{
		endpoint: endpointLoginID,
		params:   staticParams(map[string]string{"loginAccount": c.cfg.Email}),
	})
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", ProtocolError{Endpoint: endpointLoginID, Err: errors.New("login id not available")}
	}
	var parsed loginIDResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", ProtocolError{Endpoint: endpointLoginID, Err: fmt.Errorf("decode result: %w", err)}
	}
	if parsed.LoginID == "" {
		return "", ProtocolError{Endpoint: endpointLoginID, Err: errors.New("missing loginId")}
	}
	return string(parsed.LoginID), nil
}

// LoginID returns the account login id resolved at construction.
func (c *Client) LoginID() string {
	return c.loginID
}

// Session returns the live session, or nil when none is established.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Retries returns the number of consecutive retried failures since the last success.
func (c *Client) Retries() int {
	return int(c.retries.Load())
}

// Login establishes a session unless one already exists.
func (c *Client) Login(ctx context.Context) error {
	_, err := c.establish(ctx)
	return err
}

func (c *Client) establish(ctx context.Context) (*Session, error) {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	if session := c.Session(); session != nil {
		return session, nil
	}

	session, err := c.login(ctx)
	if err != nil {
		loginTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	loginTotal.WithLabelValues("ok").Inc()

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	sessionEstablished.Set(1)
	return session, nil
}

func (c *Client) login(ctx context.Context) (*Session, error) {
	result, _, err := c.call(ctx, apiCall{
		endpoint:     endpointLogin,
		establishing: true,
		params: staticParams(map[string]string{
			"loginAccount": c.cfg.Email,
			"password":     c.security.EncryptPassword(c.loginID, c.cfg.Password),
		}),
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ProtocolError{Endpoint: endpointLogin, Err: errors.New("login reply not available")}
	}

	var parsed loginResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, ProtocolError{Endpoint: endpointLogin, Err: fmt.Errorf("decode result: %w", err)}
	}
	if parsed.SessionID == "" || parsed.AccessToken == "" {
		return nil, ProtocolError{Endpoint: endpointLogin, Err: errors.New("missing sessionId or accessToken")}
	}

	cipher, err := c.security.Bind(string(parsed.AccessToken))
	if err != nil {
		return nil, ProtocolError{Endpoint: endpointLogin, Err: fmt.Errorf("bind access token: %w", err)}
	}

	return &Session{
		ID:          string(parsed.SessionID),
		AccessToken: string(parsed.AccessToken),
		UserID:      string(parsed.UserID),
		cipher:      cipher,
	}, nil
}

// invalidate clears stale only if it is still the live session, so callers
// that detect the same expiry collapse into one re-login.
func (c *Client) invalidate(stale *Session) {
	if stale == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == stale {
		c.session = nil
		sessionEstablished.Set(0)
	}
}

// ListHomeGroups returns the cached home groups, fetching when the cache is
// empty or force is set.
func (c *Client) ListHomeGroups(ctx context.Context, force bool) ([]HomeGroup, error) {
	groups, _, err := c.homeGroupList(ctx, force)
	return groups, err
}

// homeGroupList also reports whether the server deferred its answer, in which
// case the cached groups are returned unchanged.
func (c *Client) homeGroupList(ctx context.Context, force bool) ([]HomeGroup, bool, error) {
	c.mu.RLock()
	cached := slices.Clone(c.homeGroups)
	c.mu.RUnlock()
	if len(cached) > 0 && !force {
		return cached, false, nil
	}

	result, _, err := c.call(ctx, apiCall{
		endpoint:    endpointHomeGroups,
		params:      staticParams(nil),
		needSession: true,
		relogin:     true,
	})
	if err != nil {
		return nil, false, err
	}
	if result == nil {
		return cached, true, nil
	}

	var parsed homeGroupListResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, false, ProtocolError{Endpoint: endpointHomeGroups, Err: fmt.Errorf("decode result: %w", err)}
	}
	groups := make([]HomeGroup, 0, len(parsed.List))
	for _, g := range parsed.List {
		groups = append(groups, HomeGroup{
			ID:        string(g.ID),
			Name:      g.Name,
			IsDefault: isSet(g.IsDefault),
		})
	}

	c.mu.Lock()
	c.homeGroups = groups
	c.mu.Unlock()
	return slices.Clone(groups), false, nil
}

// DefaultHomeGroup returns the single group the server marks as default.
// ErrNotReady means the server deferred the listing and nothing is cached.
func (c *Client) DefaultHomeGroup(ctx context.Context) (HomeGroup, error) {
	groups, pending, err := c.homeGroupList(ctx, false)
	if err != nil {
		return HomeGroup{}, err
	}
	if pending && len(groups) == 0 {
		return HomeGroup{}, ErrNotReady
	}
	var (
		found HomeGroup
		count int
	)
	for _, g := range groups {
		if g.IsDefault {
			found = g
			count++
		}
	}
	switch count {
	case 0:
		return HomeGroup{}, ProtocolError{Endpoint: endpointHomeGroups, Err: ErrNoDefaultHomeGroup}
	case 1:
		return found, nil
	default:
		return HomeGroup{}, ProtocolError{Endpoint: endpointHomeGroups, Err: ErrAmbiguousHomeGroup}
	}
}

// ListAppliances fetches the appliances of a home group and replaces the
// cached inventory. An empty id selects the configured or default group.
// When the server defers its answer the cached inventory is returned, which
// is nil until a first listing succeeds.
func (c *Client) ListAppliances(ctx context.Context, homeGroupID string) ([]Appliance, error) {
	if homeGroupID == "" {
		homeGroupID = c.cfg.HomeGroupID
	}
	if homeGroupID == "" {
		group, err := c.DefaultHomeGroup(ctx)
		if errors.Is(err, ErrNotReady) {
			return c.Appliances(), nil
		}
		if err != nil {
			return nil, err
		}
		homeGroupID = group.ID
	}

	result, _, err := c.call(ctx, apiCall{
		endpoint:    endpointAppliances,
		params:      staticParams(map[string]string{"homegroupId": homeGroupID}),
		needSession: true,
		relogin:     true,
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return c.Appliances(), nil
	}

	var parsed applianceListResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, ProtocolError{Endpoint: endpointAppliances, Err: fmt.Errorf("decode result: %w", err)}
	}
	appliances := make([]Appliance, 0, len(parsed.List))
	for _, a := range parsed.List {
		appliances = append(appliances, Appliance{
			ID:           string(a.ID),
			Name:         a.Name,
			Type:         string(a.Type),
			ModelNumber:  string(a.ModelNumber),
			SerialNumber: string(a.SN),
			Online:       isSet(a.OnlineStatus),
			Active:       isSet(a.ActiveStatus),
		})
	}

	c.mu.Lock()
	c.appliances = appliances
	c.inventoryAt = c.now()
	c.mu.Unlock()
	return slices.Clone(appliances), nil
}

// Appliances returns a copy of the last fetched inventory.
func (c *Client) Appliances() []Appliance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.appliances)
}

// SeedAppliances installs a previously mirrored inventory. It is ignored once
// the client has fetched an inventory of its own.
func (c *Client) SeedAppliances(appliances []Appliance, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.appliances != nil || appliances == nil {
		return false
	}
	c.appliances = slices.Clone(appliances)
	c.inventoryAt = at
	return true
}

// InventoryAt reports when the inventory was last refreshed.
func (c *Client) InventoryAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inventoryAt
}

// TransparentSend relays a raw command to an appliance and returns its raw
// reply. A nil reply with a nil error means the appliance has not answered yet.
func (c *Client) TransparentSend(ctx context.Context, applianceID string, payload []byte) ([]byte, error) {
	order := EncodeOrder(payload)
	result, session, err := c.call(ctx, apiCall{
		endpoint:    endpointTransparentSend,
		needSession: true,
		relogin:     true,
		params: func(s *Session) (map[string]string, error) {
			sealed, err := s.cipher.Encrypt(order)
			if err != nil {
				return nil, ProtocolError{Endpoint: endpointTransparentSend, Err: fmt.Errorf("encrypt order: %w", err)}
			}
			return map[string]string{
				"order":       hex.EncodeToString(sealed),
				"funId":       funID,
				"applianceId": applianceID,
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	var parsed transparentReply
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, ProtocolError{Endpoint: endpointTransparentSend, Err: fmt.Errorf("decode result: %w", err)}
	}
	sealed, err := hex.DecodeString(parsed.Reply)
	if err != nil {
		return nil, ProtocolError{Endpoint: endpointTransparentSend, Err: fmt.Errorf("decode reply hex: %w", err)}
	}
	plain, err := session.cipher.Decrypt(sealed)
	if err != nil {
		return nil, ProtocolError{Endpoint: endpointTransparentSend, Err: fmt.Errorf("decrypt reply: %w", err)}
	}
	reply, err := DecodeReply(plain)
	if err != nil {
		return nil, ProtocolError{Endpoint: endpointTransparentSend, Err: err}
	}
	return reply, nil
}

// APIRequest is the low-level gateway. The session id is attached when one
// exists; a nil result with a nil error means the code was classified ignore.
func (c *Client) APIRequest(ctx context.Context, endpoint string, params map[string]string) (json.RawMessage, error) {
	result, _, err := c.call(ctx, apiCall{
		endpoint: endpoint,
		params:   staticParams(params),
		relogin:  true,
	})
	return result, err
}

func (c *Client) call(ctx context.Context, req apiCall) (json.RawMessage, *Session, error) {
	for attempt := 1; ; attempt++ {
		var session *Session
		if req.needSession {
			established, err := c.establish(ctx)
			if err != nil {
				return nil, nil, err
			}
			session = established
		} else {
			session = c.Session()
		}

		params, err := req.params(session)
		if err != nil {
			return nil, nil, err
		}

		resp, err := c.roundTrip(ctx, req.endpoint, params, session)
		if err != nil {
			return nil, nil, err
		}

		if string(resp.ErrorCode) == successCode {
			if !req.establishing {
				c.retries.Store(0)
			}
			apiRequests.WithLabelValues(req.endpoint, "ok").Inc()
			return resp.Result, session, nil
		}

		code, err := strconv.Atoi(string(resp.ErrorCode))
		if err != nil {
			apiRequests.WithLabelValues(req.endpoint, "protocol_error").Inc()
			return nil, nil, ProtocolError{Endpoint: req.endpoint, Err: fmt.Errorf("invalid errorCode %q", resp.ErrorCode)}
		}

		action := c.classifier.Classify(code)
		apiRequests.WithLabelValues(req.endpoint, action.String()).Inc()
		switch action {
		case ActionIgnore:
			log.Printf("midea %s: ignoring error %d: %s", req.endpoint, code, resp.Msg)
			return nil, session, nil
		case ActionReauthenticate:
			c.invalidate(session)
			c.retries.Add(1)
			if attempt >= maxAttempts {
				return nil, nil, AuthError{Endpoint: req.endpoint, Code: code, Msg: resp.Msg, Err: ErrRetriesExhausted}
			}
			retriesTotal.WithLabelValues(req.endpoint).Inc()
			log.Printf("midea %s: restarting session after error %d: %s (attempt %d/%d)", req.endpoint, code, resp.Msg, attempt, maxAttempts)
			if req.relogin && !req.needSession {
				if err := c.Login(ctx); err != nil {
					return nil, nil, err
				}
			}
		default:
			c.invalidate(session)
			return nil, nil, AuthError{Endpoint: req.endpoint, Code: code, Msg: resp.Msg}
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, endpoint string, params map[string]string, session *Session) (apiResponse, error) {
	c.apiMu.Lock()
	defer c.apiMu.Unlock()

	data := map[string]string{
		"appId":      appID,
		"format":     formatJSON,
		"clientType": clientType,
		"language":   language,
		"src":        src,
		"stamp":      c.now().Format(stampLayout),
	}
	for k, v := range params {
		data[k] = v
	}
	if session != nil {
		data["sessionId"] = session.ID
	}

	endpointURL := c.cfg.BaseURL + strings.TrimPrefix(endpoint, "/")
	sign, err := c.security.Sign(endpointURL, data)
	if err != nil {
		return apiResponse{}, ProtocolError{Endpoint: endpoint, Err: fmt.Errorf("sign request: %w", err)}
	}
	data["sign"] = sign

	form := url.Values{}
	for k, v := range data {
		form.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, strings.NewReader(form.Encode()))
	if err != nil {
		return apiResponse{}, NetworkError{Endpoint: endpoint, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		apiRequests.WithLabelValues(endpoint, "network_error").Inc()
		return apiResponse{}, NetworkError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		apiRequests.WithLabelValues(endpoint, "network_error").Inc()
		return apiResponse{}, NetworkError{Endpoint: endpoint, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiRequests.WithLabelValues(endpoint, "network_error").Inc()
		return apiResponse{}, NetworkError{Endpoint: endpoint, Err: HTTPStatusError{Status: resp.StatusCode, Body: string(body)}}
	}

	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		apiRequests.WithLabelValues(endpoint, "protocol_error").Inc()
		return apiResponse{}, ProtocolError{Endpoint: endpoint, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.ErrorCode == "" {
		apiRequests.WithLabelValues(endpoint, "protocol_error").Inc()
		return apiResponse{}, ProtocolError{Endpoint: endpoint, Err: errors.New("missing errorCode")}
	}
	return out, nil
}

func staticParams(params map[string]string) func(*Session) (map[string]string, error) {
	return func(*Session) (map[string]string, error) {
		return params, nil
	}
}
