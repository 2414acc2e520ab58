package hat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hubofallthings/hatsync/internal/records"
	appErrors "github.com/hubofallthings/hatsync/pkg/errors"
	"github.com/hubofallthings/hatsync/pkg/logger"
	"github.com/hubofallthings/hatsync/pkg/metrics"
	"github.com/hubofallthings/hatsync/pkg/validator"
)

// TokenHeader carries the access token on requests and the renewed token on responses.
const TokenHeader = "X-Auth-Token"

const (
	DefaultScheme     = "https"
	DefaultAPIVersion = "v2.6"
	DefaultTimeout    = 30 * time.Second
	DefaultTake       = 1000

	maxErrorBody = 4 << 10
)

// Config controls how the client talks to a HAT.
type Config struct {
	Scheme     string
	APIVersion string
	Timeout    time.Duration
	Take       int
	UserAgent  string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Scheme) == "" {
		c.Scheme = DefaultScheme
	}
	if strings.TrimSpace(c.APIVersion) == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Take <= 0 {
		c.Take = DefaultTake
	}
	if c.UserAgent == "" {
		c.UserAgent = "hatsync"
	}
	return c
}

// Resource identifies a table on a user's HAT.
type Resource struct {
	Domain string
	Source string
	Table  string
}

func (r Resource) validate() error {
	if err := validator.ValidateVar(r.Domain, "required,hatdomain"); err != nil {
		return appErrors.NewBadRequest("invalid HAT domain").WithInternal(err)
	}
	if err := validator.ValidateVar(r.Source, "required,hatname"); err != nil {
		return appErrors.NewBadRequest("invalid source name").WithInternal(err)
	}
	if err := validator.ValidateVar(r.Table, "required,hatname"); err != nil {
		return appErrors.NewBadRequest("invalid table name").WithInternal(err)
	}
	return nil
}

func (r Resource) String() string {
	return r.Domain + "/" + r.Source + "/" + r.Table
}

// FetchOptions shapes a read request.
type FetchOptions struct {
	Take     int
	Skip     int
	OrderBy  string
	Ordering string // "ascending" or "descending"
}

// Record is one entry of a HAT data response.
type Record struct {
	Endpoint string          `json:"endpoint"`
	RecordID string          `json:"recordId"`
	Data     json.RawMessage `json:"data"`
}

// RawPage is an undecoded fetch response. Token holds the renewed access token when
// the HAT issued one, and is populated on failures too whenever a response was received.
// Take is the page size that was requested; a page shorter than Take is the last one.
type RawPage struct {
	Records []Record
	Token   string
	Take    int
}

// Client performs authenticated HAT API calls.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// NewClient constructs a Client.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	cfg = cfg.withDefaults()
	client := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger.WithModule("hat"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Fetch reads records of a table.
// 404 maps to ErrTableDoesNotExist, 401/403 to ErrUnauthorized, a non-array body to ErrDecode
// and everything else to ErrNetwork.
func (c *Client) Fetch(ctx context.Context, res Resource, token string, opts FetchOptions) (RawPage, error) {
	if err := res.validate(); err != nil {
		return RawPage{}, err
	}

	endpoint := c.dataURL(res, opts)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return RawPage{}, appErrors.ErrNetwork.WithInternal(err)
	}
	c.decorate(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		c.observe("fetch", err)
		return RawPage{}, appErrors.ErrNetwork.WithInternal(err)
	}
	defer resp.Body.Close()

	page := RawPage{Token: renewedToken(resp, token), Take: c.pageSize(opts)}

	if err := statusError(resp); err != nil {
		c.observe("fetch", err)
		c.log.Debug("fetch rejected",
			zap.String("resource", res.String()),
			zap.Int("status", resp.StatusCode),
		)
		return page, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = appErrors.ErrNetwork.WithInternal(err)
		c.observe("fetch", err)
		return page, err
	}

	var items []Record
	err = json.Unmarshal(body, &items)
	if err == nil && items == nil {
		err = errors.New("response body is not a JSON array")
	}
	if err != nil {
		decodeErr := appErrors.ErrDecode.WithInternal(err)
		c.observe("fetch", decodeErr)
		return page, decodeErr
	}

	page.Records = items
	c.observe("fetch", nil)
	c.log.Debug("fetched records",
		zap.String("resource", res.String()),
		zap.Int("records", len(items)),
		zap.Bool("token_renewed", page.Token != ""),
	)
	return page, nil
}

// CreateTable provisions a table on the HAT. It returns the renewed token, if any.
func (c *Client) CreateTable(ctx context.Context, res Resource, schema records.TableSchema, token string) (string, error) {
	if err := res.validate(); err != nil {
		return "", err
	}

	body, err := json.Marshal(schema)
	if err != nil {
		return "", appErrors.ErrProvisionFailed.WithInternal(err)
	}

	endpoint := fmt.Sprintf("%s://%s/data/table", c.cfg.Scheme, res.Domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", appErrors.ErrNetwork.WithInternal(err)
	}
	c.decorate(req, token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.observe("provision", err)
		return "", appErrors.ErrNetwork.WithInternal(err)
	}
	defer resp.Body.Close()

	renewed := renewedToken(resp, token)
	if resp.StatusCode == http.StatusConflict {
		// already provisioned by a concurrent attempt
		c.observe("provision", nil)
		return renewed, nil
	}
	if err := statusError(resp); err != nil {
		if !errors.Is(err, appErrors.ErrUnauthorized) && resp.StatusCode < http.StatusInternalServerError {
			err = appErrors.ErrProvisionFailed.WithInternal(err)
		}
		c.observe("provision", err)
		return renewed, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.observe("provision", nil)
	c.log.Info("provisioned table",
		zap.String("resource", res.String()),
		zap.Int("status", resp.StatusCode),
	)
	return renewed, nil
}

func (c *Client) pageSize(opts FetchOptions) int {
	if opts.Take > 0 {
		return opts.Take
	}
	return c.cfg.Take
}

func (c *Client) dataURL(res Resource, opts FetchOptions) string {
	query := url.Values{}
	query.Set("take", strconv.Itoa(c.pageSize(opts)))
	if opts.Skip > 0 {
		query.Set("skip", strconv.Itoa(opts.Skip))
	}
	if opts.OrderBy != "" {
		query.Set("orderBy", opts.OrderBy)
		ordering := opts.Ordering
		if ordering == "" {
			ordering = "descending"
		}
		query.Set("ordering", ordering)
	}

	u := url.URL{
		Scheme:   c.cfg.Scheme,
		Host:     res.Domain,
		Path:     fmt.Sprintf("/api/%s/data/%s/%s", c.cfg.APIVersion, res.Source, res.Table),
		RawQuery: query.Encode(),
	}
	return u.String()
}

func (c *Client) decorate(req *http.Request, token string) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}
}

func (c *Client) observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = appErrors.Code(err)
		if result == "" {
			result = appErrors.ErrNetwork.Code
		}
	}
	metrics.RemoteCalls.WithLabelValues(op, result).Inc()
}

func renewedToken(resp *http.Response, sent string) string {
	token := strings.TrimSpace(resp.Header.Get(TokenHeader))
	if token == "" || token == sent {
		return ""
	}
	return token
}

func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))

	switch resp.StatusCode {
	case http.StatusNotFound:
		return appErrors.ErrTableDoesNotExist.WithInternal(detail)
	case http.StatusUnauthorized, http.StatusForbidden:
		return appErrors.ErrUnauthorized.WithInternal(detail)
	default:
		return appErrors.ErrNetwork.WithInternal(detail)
	}
}
