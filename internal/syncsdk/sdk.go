package syncsdk

import (
	"net/http"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/cryptsync/internal/version"
	"golang.org/x/time/rate"
)

// Config for the SyncSDK. BaseURL and APIKey are required.
type Config struct {
	BaseURL string
	APIKey  string
	// BandwidthLimit caps chunk transfer throughput in bytes per second, 0 disables it
	BandwidthLimit int
	RetryCount     int
	RetryInterval  time.Duration
	Timeout        time.Duration
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoServerURL
	}
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	return nil
}

// SyncSDK talks to the storage backend. Methods are safe for concurrent use.
type SyncSDK struct {
	client  *req.Client
	limiter *rate.Limiter
	stats   *httpStats
}

func New(cfg *Config) (*SyncSDK, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	retryCount := cfg.RetryCount
	if retryCount == 0 {
		retryCount = defaultRetryCount
	}
	retryInterval := cfg.RetryInterval
	if retryInterval == 0 {
		retryInterval = defaultRetryInterval
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	client := req.C().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetCommonRetryCount(retryCount).
		SetCommonRetryFixedInterval(retryInterval).
		SetCommonRetryCondition(shouldRetry).
		SetUserAgent(version.UserAgent()).
		SetCommonHeader(HeaderClientVersion, version.Version).
		SetCommonHeader(HeaderDeviceID, DeviceID).
		SetCommonBearerAuthToken(cfg.APIKey).
		SetCommonErrorResult(&APIError{}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	limit := rate.Inf
	burst := 2 * ChunkSize
	if cfg.BandwidthLimit > 0 {
		limit = rate.Limit(cfg.BandwidthLimit)
		burst = max(burst, cfg.BandwidthLimit)
	}

	return &SyncSDK{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		stats:   newHTTPStats(),
	}, nil
}

// shouldRetry retries transport errors, throttling and server side failures
func shouldRetry(resp *req.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil || resp.Response == nil {
		return false
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
}

// SetBandwidthLimit changes the transfer throttle at runtime, 0 disables it
func (s *SyncSDK) SetBandwidthLimit(bytesPerSec int) {
	if bytesPerSec <= 0 {
		s.limiter.SetLimit(rate.Inf)
		return
	}
	s.limiter.SetBurst(max(2*ChunkSize, bytesPerSec))
	s.limiter.SetLimit(rate.Limit(bytesPerSec))
}

func (s *SyncSDK) Stats() Stats {
	return s.stats.snapshot()
}

func (s *SyncSDK) Close() {
	s.client.GetClient().CloseIdleConnections()
}
