// Package ontap is a read-only client for the ONTAP REST API, limited to the
// volume and snapshot inventory.
package ontap

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/snapspectre/internal/models"
	"github.com/ppiankov/snapspectre/internal/retry"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultPageSize = 1000
)

// ClientConfig holds configuration for one cluster's client
type ClientConfig struct {
	Host               string // cluster FQDN
	BaseURL            string // overrides https://<Host>
	Username           string
	Password           string
	InsecureSkipVerify bool
	Timeout            time.Duration
	RateLimit          int
	PageSize           int
}

// Client is an ONTAP REST API client bound to one cluster
type Client struct {
	host       string
	baseURL    *url.URL
	httpClient *http.Client
	username   string
	password   string
	limiter    *throttle
	policy     retry.Policy
	pageSize   int
}

// NewClient creates a client. It does not contact the cluster.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}

	raw := cfg.BaseURL
	if raw == "" {
		if cfg.Host == "" {
			return nil, errors.New("cluster host is required")
		}
		raw = "https://" + cfg.Host
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid cluster URL %q: %w", raw, err)
	}
	host := cfg.Host
	if host == "" {
		host = base.Host
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	policy := retry.DefaultPolicy()
	policy.Permanent = isNonRetryableError
	policy.Retryable = func(err error) bool {
		return isRetryableStatus(err) || retry.IsRetryable(err)
	}

	return &Client{
		host:    host,
		baseURL: base,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		username: cfg.Username,
		password: cfg.Password,
		limiter:  newThrottle(host, cfg.RateLimit),
		policy:   policy,
		pageSize: cfg.PageSize,
	}, nil
}

// Host returns the cluster endpoint this client talks to.
func (c *Client) Host() string {
	return c.host
}

// Cluster fetches the cluster identity. Used to verify reachability and credentials.
func (c *Client) Cluster(ctx context.Context) (*ClusterInfo, error) {
	body, err := c.doRequest(ctx, "/api/cluster?fields=name,uuid,version")
	if err != nil {
		return nil, err
	}

	var info ClusterInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to decode cluster response: %w", err)
	}
	return &info, nil
}

// ListVolumes lists every volume with its owning SVM.
func (c *Client) ListVolumes(ctx context.Context) ([]models.VolumeRecord, error) {
	query := url.Values{}
	query.Set("fields", "name,uuid,svm.name")

	records, err := listAll[volume](ctx, c, "/api/storage/volumes", query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}

	volumes := make([]models.VolumeRecord, 0, len(records))
	for _, v := range records {
		volumes = append(volumes, models.VolumeRecord{
			Name:    v.Name,
			UUID:    v.UUID,
			SVMName: v.SVM.Name,
		})
	}
	return volumes, nil
}

// ListSnapshots lists the snapshots of one volume.
func (c *Client) ListSnapshots(ctx context.Context, volumeUUID string) ([]Snapshot, error) {
	query := url.Values{}
	query.Set("fields", "name,create_time")

	path := "/api/storage/volumes/" + url.PathEscape(volumeUUID) + "/snapshots"
	snapshots, err := listAll[Snapshot](ctx, c, path, query, ErrVolumeNotFound)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots of volume %s: %w", volumeUUID, err)
	}
	return snapshots, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// listAll follows _links.next until the collection is exhausted. When notFound
// is set, a 404 on the first page is reported as notFound. A 404 on a later page
// stays an *APIError so a truncated collection is never mistaken for a vanished one.
func listAll[T any](ctx context.Context, c *Client, path string, query url.Values, notFound error) ([]T, error) {
	query.Set("max_records", strconv.Itoa(c.pageSize))
	ref := path + "?" + query.Encode()

	seen := make(map[string]struct{})
	var out []T
	for ref != "" {
		if _, dup := seen[ref]; dup {
			return nil, fmt.Errorf("%w: %s", ErrPaginationLoop, ref)
		}
		seen[ref] = struct{}{}

		body, err := c.doRequest(ctx, ref)
		if err != nil {
			var apiErr *APIError
			if notFound != nil && len(seen) == 1 && errors.As(err, &apiErr) && apiErr.IsNotFound() {
				return nil, fmt.Errorf("%w: %s", notFound, apiErr.Message)
			}
			return nil, err
		}

		var page collection[T]
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("failed to decode %s response: %w", path, err)
		}
		out = append(out, page.Records...)

		ref = ""
		if page.Links.Next != nil {
			ref = page.Links.Next.Href
		}
	}

	return out, nil
}

// doRequest performs a GET with rate limiting and retry
func (c *Client) doRequest(ctx context.Context, ref string) ([]byte, error) {
	var body []byte
	attempt := 0
	err := retry.Do(ctx, c.policy, func() error {
		attempt++
		if err := c.limiter.wait(ctx); err != nil {
			return err
		}

		resp, err := c.doRequestOnce(ctx, ref)
		if err != nil {
			slog.Debug("ontap request failed",
				slog.String("cluster", c.host),
				slog.String("ref", ref),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return err
		}
		body = resp
		return nil
	})
	if err != nil {
		return nil, c.classify(err)
	}
	return body, nil
}

// doRequestOnce performs a single HTTP request
func (c *Client) doRequestOnce(ctx context.Context, ref string) ([]byte, error) {
	reqURL, err := c.baseURL.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid request reference %q: %w", ref, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/hal+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp errorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, mapStatusToError(resp.StatusCode, errResp.Error.Code, errResp.Error.Message)
		}
		return nil, mapStatusToError(resp.StatusCode, "", strings.TrimSpace(string(respBody)))
	}

	return respBody, nil
}

// classify turns rejected credentials and transport failures into ConnectionError.
func (c *Client) classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.IsAuth() {
			return &models.ConnectionError{System: "array", Endpoint: c.host, Err: err}
		}
		return err
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &models.ConnectionError{System: "array", Endpoint: c.host, Err: err}
	}
	return err
}
