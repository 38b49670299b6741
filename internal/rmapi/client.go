package rmapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/coachpo/rmpay/config"
	"github.com/coachpo/rmpay/errs"
	"github.com/coachpo/rmpay/internal/observability"
	"github.com/coachpo/rmpay/internal/signature"
)

const providerCodeNotFound = "TRANSACTION_NOT_FOUND"

// Client issues authenticated, signed calls against the provider API. It
// holds no transaction state; its only side effects are outbound requests.
type Client struct {
	http      *http.Client
	endpoints Endpoints
	tokens    *TokenManager
	signer    *signature.Signer
	limiter   *rate.Limiter
	storeID   string
	log       observability.Logger
}

// ClientOption configures a Client during construction.
type ClientOption func(*Client)

// WithLogger overrides the client logger.
func WithLogger(logger observability.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.log = logger
		}
	}
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// WithEndpointOverride routes a usage to an alternate base URL.
func WithEndpointOverride(usage Usage, baseURL string) ClientOption {
	return func(c *Client) {
		c.endpoints = c.endpoints.WithOverride(usage, baseURL)
	}
}

// New constructs a Client from validated settings. The signing key is parsed
// eagerly so a malformed key surfaces at construction, not mid-checkout.
func New(cfg config.Settings, opts ...ClientOption) (*Client, error) {
	signer, err := signature.NewSigner([]byte(cfg.Credentials.PrivateKey))
	if err != nil {
		return nil, err
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestRate > 0 {
		limit = rate.Limit(cfg.RequestRate)
	}

	c := &Client{
		http:      &http.Client{Timeout: timeout},
		endpoints: NewEndpoints(cfg.Sandbox()),
		signer:    signer,
		limiter:   rate.NewLimiter(limit, 1),
		storeID:   cfg.StoreID,
		log:       observability.Log(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.tokens = NewTokenManager(c.http, c.endpoints, cfg.Credentials.ClientID, cfg.Credentials.ClientSecret)
	return c, nil
}

// Authenticate performs the client-credential exchange up front. Construction
// alone does not authenticate; callers decide when the first exchange runs.
func (c *Client) Authenticate(ctx context.Context) (Session, error) {
	return c.tokens.Authenticate(ctx)
}

func (c *Client) call(ctx context.Context, method, url string, payload map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errs.New("rmapi.call", errs.CodeNetwork,
			errs.WithMessage("request throttled past deadline"), errs.WithCause(err))
	}
	return c.doCall(ctx, method, url, payload, out, true)
}

func (c *Client) doCall(ctx context.Context, method, url string, payload map[string]any, out any, reauth bool) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	signed, err := c.signer.Sign(method, url, payload)
	if err != nil {
		return err
	}

	var body io.Reader
	if len(payload) > 0 && method != http.MethodGet {
		encoded, err := json.MarshalWithOption(payload, json.DisableHTMLEscape())
		if err != nil {
			return errs.New("rmapi.call", errs.CodeInvalid,
				errs.WithMessage("encode request payload"), errs.WithCause(err))
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, body)
	if err != nil {
		return errs.New("rmapi.call", errs.CodeInvalid,
			errs.WithMessage("build request"), errs.WithCause(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Signature", "sha256 "+signed.Signature)
	req.Header.Set("X-Nonce-Str", signed.Nonce)
	req.Header.Set("X-Timestamp", strconv.FormatInt(signed.Timestamp, 10))

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.New("rmapi.call", errs.CodeNetwork,
			errs.WithMessage("provider unreachable"), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized && reauth {
		c.log.Debug("access token rejected, re-authenticating", observability.F("url", url))
		c.tokens.Invalidate()
		return c.doCall(ctx, method, url, payload, out, false)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.New("rmapi.call", errs.CodeNetwork,
			errs.WithMessage("read provider response"), errs.WithCause(err))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return errs.New("rmapi.call", errs.CodeEmptyResponse,
			errs.WithHTTP(resp.StatusCode), errs.WithMessage("provider returned no body"))
	}

	var envelope struct {
		Item  json.RawMessage `json:"item"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return errs.New("rmapi.call", errs.CodeProvider,
			errs.WithHTTP(resp.StatusCode),
			errs.WithMessage("unparseable provider response"), errs.WithCause(err))
	}
	if envelope.Error != nil && envelope.Error.Code != "" {
		opts := []errs.Option{
			errs.WithHTTP(resp.StatusCode),
			errs.WithRawCode(envelope.Error.Code),
			errs.WithRawMessage(envelope.Error.Message),
		}
		if strings.EqualFold(envelope.Error.Code, providerCodeNotFound) {
			opts = append(opts, errs.WithCanonicalCode(errs.CanonicalTransactionNotFound))
		}
		return errs.New("rmapi.call", errs.CodeProvider, opts...)
	}

	if out != nil {
		if len(envelope.Item) == 0 {
			return errs.New("rmapi.call", errs.CodeEmptyResponse,
				errs.WithHTTP(resp.StatusCode), errs.WithMessage("provider response missing item"))
		}
		if err := json.Unmarshal(envelope.Item, out); err != nil {
			return errs.New("rmapi.call", errs.CodeProvider,
				errs.WithHTTP(resp.StatusCode),
				errs.WithMessage("unparseable provider item"), errs.WithCause(err))
		}
	}
	return nil
}
