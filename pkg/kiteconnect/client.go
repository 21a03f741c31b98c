// Package kiteconnect is a minimal Zerodha Kite Connect client covering the
// surface this system trades through: session generation with TOTP two-factor
// login, margins, quotes, orders, and historical candles.
//
// Usage:
//
//	kc := kiteconnect.New(kiteconnect.Config{APIKey: "key", APISecret: "secret"})
//	if err := kc.AutoLogin(ctx, "AB1234", "password", "TOTPSECRET"); err != nil { ... }
//	orderID, err := kc.PlaceOrder(ctx, kiteconnect.OrderParams{...})
package kiteconnect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
)

const (
	defaultRoot     = "https://api.kite.trade"
	defaultLoginURL = "https://kite.zerodha.com"
	kiteVersion     = "3"
)

// ErrSessionExpired is returned when the API rejects the access token.
var ErrSessionExpired = errors.New("kite session expired")

// Config holds client construction parameters.
type Config struct {
	APIKey      string
	APISecret   string
	AccessToken string // optional, skips login when already known

	RootURL  string        // default: https://api.kite.trade
	LoginURL string        // default: https://kite.zerodha.com
	Timeout  time.Duration // default: 7s
	Debug    bool
}

// Client is a Kite Connect REST client. Safe for concurrent use once the
// session is established.
type Client struct {
	apiKey      string
	apiSecret   string
	accessToken string
	rootURL     string
	loginURL    string
	debug       bool

	httpClient *http.Client

	// SessionExpiryHook is called when the API reports a TokenException
	// (optional).
	SessionExpiryHook func()
}

// New creates a Kite Connect client.
func New(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = defaultLoginURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	return &Client{
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.APISecret,
		accessToken: cfg.AccessToken,
		rootURL:     strings.TrimRight(cfg.RootURL, "/"),
		loginURL:    strings.TrimRight(cfg.LoginURL, "/"),
		debug:       cfg.Debug,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				// Redirects carry the request token during login; the
				// caller inspects them instead of following.
				return http.ErrUseLastResponse
			},
		},
	}
}

// SetAccessToken installs a session token obtained elsewhere.
func (c *Client) SetAccessToken(token string) { c.accessToken = token }

// AccessToken returns the current session token.
func (c *Client) AccessToken() string { return c.accessToken }

// TOTPCode computes the current time-based one-time password for a secret.
func TOTPCode(secret string) (string, error) {
	return totp.GenerateCode(secret, time.Now())
}

// AutoLogin performs the full interactive login flow without a browser:
// password login, TOTP two-factor, request-token capture from the connect
// redirect, and session generation.
func (c *Client) AutoLogin(ctx context.Context, userID, password, totpSecret string) error {
	jar := newCookieClient(c.httpClient.Timeout)

	reqID, err := c.loginStep(ctx, jar, userID, password)
	if err != nil {
		return fmt.Errorf("kite login: %w", err)
	}

	code, err := TOTPCode(totpSecret)
	if err != nil {
		return fmt.Errorf("kite login: generate totp: %w", err)
	}
	if err := c.twofaStep(ctx, jar, userID, reqID, code); err != nil {
		return fmt.Errorf("kite twofa: %w", err)
	}

	requestToken, err := c.requestTokenStep(ctx, jar)
	if err != nil {
		return fmt.Errorf("kite request token: %w", err)
	}

	if err := c.GenerateSession(ctx, requestToken); err != nil {
		return fmt.Errorf("kite session: %w", err)
	}
	return nil
}

func (c *Client) loginStep(ctx context.Context, hc *http.Client, userID, password string) (string, error) {
	form := url.Values{"user_id": {userID}, "password": {password}}
	var out struct {
		Data struct {
			RequestID string `json:"request_id"`
		} `json:"data"`
	}
	if err := postForm(ctx, hc, c.loginURL+"/api/login", form, &out); err != nil {
		return "", err
	}
	if out.Data.RequestID == "" {
		return "", errors.New("no request_id in login response")
	}
	return out.Data.RequestID, nil
}

func (c *Client) twofaStep(ctx context.Context, hc *http.Client, userID, requestID, code string) error {
	form := url.Values{
		"user_id":      {userID},
		"request_id":   {requestID},
		"twofa_value":  {code},
		"twofa_type":   {"totp"},
		"skip_session": {"true"},
	}
	var out struct{}
	return postForm(ctx, hc, c.loginURL+"/api/twofa", form, &out)
}

// requestTokenStep hits the connect endpoint and pulls the request token out
// of the redirect location.
func (c *Client) requestTokenStep(ctx context.Context, hc *http.Client) (string, error) {
	connectURL := fmt.Sprintf("%s/connect/login?api_key=%s&v=%s", c.loginURL, c.apiKey, kiteVersion)
	for i := 0; i < 5; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, connectURL, nil)
		if err != nil {
			return "", err
		}
		resp, err := hc.Do(req)
		if err != nil {
			return "", err
		}
		loc := resp.Header.Get("Location")
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if loc == "" {
			return "", fmt.Errorf("connect login: no redirect (status %d)", resp.StatusCode)
		}
		u, err := url.Parse(loc)
		if err != nil {
			return "", err
		}
		if token := u.Query().Get("request_token"); token != "" {
			return token, nil
		}
		if !u.IsAbs() {
			u = req.URL.ResolveReference(u)
		}
		connectURL = u.String()
	}
	return "", errors.New("request token not found in redirect chain")
}

// GenerateSession exchanges a request token for an access token using the
// api_key+request_token+api_secret checksum.
func (c *Client) GenerateSession(ctx context.Context, requestToken string) error {
	sum := sha256.Sum256([]byte(c.apiKey + requestToken + c.apiSecret))
	form := url.Values{
		"api_key":       {c.apiKey},
		"request_token": {requestToken},
		"checksum":      {hex.EncodeToString(sum[:])},
	}
	var data struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/session/token", form, &data); err != nil {
		return err
	}
	if data.AccessToken == "" {
		return errors.New("no access_token in session response")
	}
	c.accessToken = data.AccessToken
	return nil
}

// Margins holds the equity segment margin figures in paise.
type Margins struct {
	Net           int64 `json:"net"`
	AvailableCash int64 `json:"available_cash"`
	IntradayPayin int64 `json:"intraday_payin"`
}

// EquityMargins fetches the equity segment margins.
func (c *Client) EquityMargins(ctx context.Context) (Margins, error) {
	var data struct {
		Net       float64 `json:"net"`
		Available struct {
			Cash          float64 `json:"cash"`
			IntradayPayin float64 `json:"intraday_payin"`
		} `json:"available"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/user/margins/equity", nil, &data); err != nil {
		return Margins{}, err
	}
	return Margins{
		Net:           toPaise(data.Net),
		AvailableCash: toPaise(data.Available.Cash),
		IntradayPayin: toPaise(data.Available.IntradayPayin),
	}, nil
}

// LTP returns last traded prices in paise, keyed by "EXCHANGE:SYMBOL".
func (c *Client) LTP(ctx context.Context, instruments ...string) (map[string]int64, error) {
	q := url.Values{}
	for _, inst := range instruments {
		q.Add("i", inst)
	}
	var data map[string]struct {
		LastPrice float64 `json:"last_price"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/quote/ltp?"+q.Encode(), nil, &data); err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for k, v := range data {
		out[k] = toPaise(v.LastPrice)
	}
	return out, nil
}

// Order parameter constants.
const (
	VarietyRegular = "regular"

	TransactionBuy  = "BUY"
	TransactionSell = "SELL"

	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
	OrderTypeSL     = "SL"
	OrderTypeSLM    = "SL-M"

	ProductMIS = "MIS" // intraday, auto square-off by broker

	ValidityDay = "DAY"
)

// OrderParams describes one order. Price fields are in paise and converted
// to rupees on the wire.
type OrderParams struct {
	Exchange        string
	TradingSymbol   string
	TransactionType string
	OrderType       string
	Quantity        int64
	Product         string
	Price           int64 // limit orders
	TriggerPrice    int64 // stop orders
	Tag             string
}

// PlaceOrder places a regular-variety order and returns the order id.
func (c *Client) PlaceOrder(ctx context.Context, p OrderParams) (string, error) {
	form := url.Values{
		"exchange":         {p.Exchange},
		"tradingsymbol":    {p.TradingSymbol},
		"transaction_type": {p.TransactionType},
		"order_type":       {p.OrderType},
		"quantity":         {fmt.Sprintf("%d", p.Quantity)},
		"product":          {p.Product},
		"validity":         {ValidityDay},
	}
	if p.Price > 0 {
		form.Set("price", rupees(p.Price))
	}
	if p.TriggerPrice > 0 {
		form.Set("trigger_price", rupees(p.TriggerPrice))
	}
	if p.Tag != "" {
		form.Set("tag", p.Tag)
	}

	var data struct {
		OrderID string `json:"order_id"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/orders/"+VarietyRegular, form, &data); err != nil {
		return "", err
	}
	if data.OrderID == "" {
		return "", errors.New("no order_id in response")
	}
	return data.OrderID, nil
}

// CancelOrder cancels a regular-variety order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	var data struct {
		OrderID string `json:"order_id"`
	}
	return c.doRequest(ctx, http.MethodDelete, "/orders/"+VarietyRegular+"/"+orderID, nil, &data)
}

// Order is one state in an order's history.
type Order struct {
	OrderID       string  `json:"order_id"`
	Status        string  `json:"status"`
	StatusMessage string  `json:"status_message"`
	AveragePrice  float64 `json:"average_price"` // rupees as sent by the API
	FilledQty     int64   `json:"filled_quantity"`
}

// OrderHistory returns the state transitions of one order, oldest first.
func (c *Client) OrderHistory(ctx context.Context, orderID string) ([]Order, error) {
	var data []Order
	if err := c.doRequest(ctx, http.MethodGet, "/orders/"+orderID, nil, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// HistoricalCandle is one row from the historical data API.
type HistoricalCandle struct {
	TS     time.Time
	Open   int64 // paise
	High   int64
	Low    int64
	Close  int64
	Volume int64
}

// HistoricalData fetches candles for an instrument token at the given
// interval (e.g. "5minute"), oldest first.
func (c *Client) HistoricalData(ctx context.Context, token uint32, interval string, from, to time.Time) ([]HistoricalCandle, error) {
	const layout = "2006-01-02 15:04:05"
	path := fmt.Sprintf("/instruments/historical/%d/%s?from=%s&to=%s",
		token, interval,
		url.QueryEscape(from.Format(layout)),
		url.QueryEscape(to.Format(layout)))

	var data struct {
		Candles [][]json.RawMessage `json:"candles"`
	}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}

	out := make([]HistoricalCandle, 0, len(data.Candles))
	for _, row := range data.Candles {
		if len(row) < 6 {
			continue
		}
		var ts string
		var o, h, l, cl float64
		var vol int64
		if err := json.Unmarshal(row[0], &ts); err != nil {
			continue
		}
		json.Unmarshal(row[1], &o)
		json.Unmarshal(row[2], &h)
		json.Unmarshal(row[3], &l)
		json.Unmarshal(row[4], &cl)
		json.Unmarshal(row[5], &vol)

		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			continue
		}
		out = append(out, HistoricalCandle{
			TS:     t.UTC(),
			Open:   toPaise(o),
			High:   toPaise(h),
			Low:    toPaise(l),
			Close:  toPaise(cl),
			Volume: vol,
		})
	}
	return out, nil
}

// doRequest performs an authenticated API call and decodes the "data" field
// into out.
func (c *Client) doRequest(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.rootURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-Kite-Version", kiteVersion)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "token "+c.apiKey+":"+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var envelope struct {
		Status    string          `json:"status"`
		Message   string          `json:"message"`
		ErrorType string          `json:"error_type"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%s %s: parse response: %w", method, path, err)
	}
	if envelope.Status != "success" {
		if envelope.ErrorType == "TokenException" {
			if c.SessionExpiryHook != nil {
				c.SessionExpiryHook()
			}
			return fmt.Errorf("%s %s: %w: %s", method, path, ErrSessionExpired, envelope.Message)
		}
		return fmt.Errorf("%s %s: %s: %s", method, path, envelope.ErrorType, envelope.Message)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("%s %s: parse data: %w", method, path, err)
		}
	}
	return nil
}

// postForm posts a form and decodes a JSON body, for the cookie-bound login
// endpoints that do not use the API envelope's auth header.
func postForm(ctx context.Context, hc *http.Client, urlStr string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Kite-Version", kiteVersion)

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var envelope struct {
			Message string `json:"message"`
		}
		json.Unmarshal(raw, &envelope)
		return fmt.Errorf("POST %s: status %d: %s", urlStr, resp.StatusCode, envelope.Message)
	}
	return json.Unmarshal(raw, out)
}

// newCookieClient builds a client that carries the login session cookies and
// surfaces redirects to the caller.
func newCookieClient(timeout time.Duration) *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Timeout: timeout,
		Jar:     jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func toPaise(rupees float64) int64 {
	return int64(math.Round(rupees * 100))
}

func rupees(paise int64) string {
	return fmt.Sprintf("%d.%02d", paise/100, paise%100)
}
