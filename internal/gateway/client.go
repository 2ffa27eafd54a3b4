// Package gateway talks to a Zarinpal-style payment gateway: a JSON
// request/verify API plus a browser StartPay redirect.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"checkout-service/internal/util"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Gateway result codes
const (
	CodeSuccess         = 100
	CodeAlreadyVerified = 101
)

const (
	requestPath  = "/pg/v4/payment/request.json"
	verifyPath   = "/pg/v4/payment/verify.json"
	startPayPath = "/pg/StartPay/"
)

// Config configures a gateway client
type Config struct {
	BaseURL    string
	MerchantID string
	Timeout    time.Duration
}

// Client is the gateway HTTP client
type Client struct {
	baseURL    string
	merchantID string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a new gateway client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		merchantID: cfg.MerchantID,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// RequestInput opens a payment attempt. Amount is in gateway units.
type RequestInput struct {
	Amount      int64
	CallbackURL string
	Description string
}

// RequestResult is the gateway's answer to a payment request
type RequestResult struct {
	Code      int
	Authority string
	Message   string
	Raw       []byte
}

// Accepted reports whether the gateway issued an authority
func (r *RequestResult) Accepted() bool {
	return r.Code == CodeSuccess && r.Authority != ""
}

// VerifyInput confirms a payment attempt. Amount is in gateway units.
type VerifyInput struct {
	Amount    int64
	Authority string
}

// VerifyResult is the gateway's answer to a verify call
type VerifyResult struct {
	Code    int
	RefID   string
	Message string
	Raw     []byte
}

// Verified reports a successful or previously successful verification
func (r *VerifyResult) Verified() bool {
	return r.Code == CodeSuccess || r.Code == CodeAlreadyVerified
}

// Error is a transport-level gateway failure: unreachable, timed out,
// non-200 status or a payload that could not be decoded.
type Error struct {
	Op         string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type requestBody struct {
	MerchantID  string `json:"merchant_id"`
	Amount      int64  `json:"amount"`
	CallbackURL string `json:"callback_url"`
	Description string `json:"description"`
}

type verifyBody struct {
	MerchantID string `json:"merchant_id"`
	Amount     int64  `json:"amount"`
	Authority  string `json:"authority"`
}

// envelope is the v4 response shape. On failure data is an empty array and
// errors carries the code, so both are decoded lazily.
type envelope struct {
	Data   jsoniter.RawMessage `json:"data"`
	Errors jsoniter.RawMessage `json:"errors"`
}

type resultData struct {
	Code      int        `json:"code"`
	Message   string     `json:"message"`
	Authority string     `json:"authority"`
	RefID     flexString `json:"ref_id"`
}

// flexString accepts either a JSON string or number
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		s = ""
	}
	*f = flexString(s)
	return nil
}

// RequestPayment asks the gateway for a new authority
func (c *Client) RequestPayment(ctx context.Context, in RequestInput) (*RequestResult, error) {
	raw, data, err := c.call(ctx, "request", requestPath, requestBody{
		MerchantID:  c.merchantID,
		Amount:      in.Amount,
		CallbackURL: in.CallbackURL,
		Description: in.Description,
	})
	if err != nil {
		return nil, err
	}
	return &RequestResult{Code: data.Code, Authority: data.Authority, Message: data.Message, Raw: raw}, nil
}

// Verify confirms the payment identified by authority
func (c *Client) Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	raw, data, err := c.call(ctx, "verify", verifyPath, verifyBody{
		MerchantID: c.merchantID,
		Amount:     in.Amount,
		Authority:  in.Authority,
	})
	if err != nil {
		return nil, err
	}
	return &VerifyResult{Code: data.Code, RefID: string(data.RefID), Message: data.Message, Raw: raw}, nil
}

// StartPayURL is where the buyer is redirected to pay
func (c *Client) StartPayURL(authority string) string {
	return c.baseURL + startPayPath + authority
}

func (c *Client) call(ctx context.Context, op, path string, body interface{}) ([]byte, *resultData, error) {
	ctx, span := util.StartSpan(ctx, "Gateway."+op)
	defer span.End()

	start := time.Now()
	defer func() {
		util.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, &Error{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, &Error{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		gwErr := &Error{Op: op, Timeout: isTimeout(err), Err: err}
		util.SpanError(span, gwErr)
		return nil, nil, gwErr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &Error{Op: op, Timeout: isTimeout(err), Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		gwErr := &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected response: %s", truncate(raw))}
		util.SpanError(span, gwErr)
		return raw, nil, gwErr
	}

	data, err := decode(raw)
	if err != nil {
		gwErr := &Error{Op: op, Err: err}
		util.SpanError(span, gwErr)
		return raw, nil, gwErr
	}
	return raw, data, nil
}

func decode(raw []byte) (*resultData, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var data resultData
	if isObject(env.Data) {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
		if data.Code != 0 {
			return &data, nil
		}
	}
	if isObject(env.Errors) {
		if err := json.Unmarshal(env.Errors, &data); err != nil {
			return nil, fmt.Errorf("decode errors: %w", err)
		}
	}
	if data.Code == 0 {
		return nil, errors.New("response carries no result code")
	}
	return &data, nil
}

func isObject(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(raw []byte) string {
	const limit = 256
	if len(raw) > limit {
		return string(raw[:limit]) + "..."
	}
	return string(raw)
}
