// Package adapter contains clients for the external wearable data aggregator.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wearable-sync/internal/circuitbreaker"
	apperrors "github.com/wearable-sync/internal/errors"
	"github.com/wearable-sync/internal/logging"
	"github.com/wearable-sync/internal/models"
	"github.com/wearable-sync/internal/types"
)

// DefaultTerraBaseURL is the production Terra REST endpoint
const DefaultTerraBaseURL = "https://api.tryterra.co/v2"

// TerraUser is the user block Terra returns with every category payload
type TerraUser struct {
	UserID      string `json:"user_id"`
	Provider    string `json:"provider"`
	ReferenceID string `json:"reference_id,omitempty"`
	Scopes      string `json:"scopes,omitempty"`
}

// CategoryResponse is the payload of one category endpoint. Data items are
// kept raw so every provider-specific field survives into storage.
type CategoryResponse struct {
	Status string            `json:"status"`
	Type   string            `json:"type"`
	User   *TerraUser        `json:"user,omitempty"`
	Data   []json.RawMessage `json:"data"`
}

// IsEmpty reports whether the category returned no data items
func (r *CategoryResponse) IsEmpty() bool {
	return r == nil || len(r.Data) == 0
}

// deviceItem holds the fields read from a data item for record metadata
type deviceItem struct {
	Metadata struct {
		Provider string `json:"provider"`
	} `json:"metadata"`
	DeviceData struct {
		Type         string `json:"type"`
		Name         string `json:"name"`
		Manufacturer string `json:"manufacturer"`
	} `json:"device_data"`
}

// DeviceMetadata extracts device type/model/provider from the first data item.
// ok is false when the category has no items.
func (r *CategoryResponse) DeviceMetadata() (meta models.RecordMetadata, ok bool) {
	if r.IsEmpty() {
		return meta, false
	}

	var item deviceItem
	// metadata is best-effort; an unparseable item still counts as the first item
	_ = json.Unmarshal(r.Data[0], &item)

	meta.DeviceType = item.DeviceData.Type
	meta.DeviceModel = item.DeviceData.Name
	if meta.DeviceModel == "" {
		meta.DeviceModel = item.DeviceData.Manufacturer
	}
	if r.User != nil {
		meta.Provider = r.User.Provider
	}
	if meta.Provider == "" {
		meta.Provider = item.Metadata.Provider
	}
	return meta, true
}

// UserData is the result of one GetAllUserData call
type UserData struct {
	Activity  *CategoryResponse `json:"activity"`
	Body      *CategoryResponse `json:"body"`
	Sleep     *CategoryResponse `json:"sleep"`
	Nutrition *CategoryResponse `json:"nutrition"`
	Daily     *CategoryResponse `json:"daily"`
}

// Category returns the payload for one data type, or nil
func (d *UserData) Category(dataType types.DataType) *CategoryResponse {
	if d == nil {
		return nil
	}
	switch dataType {
	case types.DataTypeActivity:
		return d.Activity
	case types.DataTypeBody:
		return d.Body
	case types.DataTypeSleep:
		return d.Sleep
	case types.DataTypeNutrition:
		return d.Nutrition
	case types.DataTypeDaily:
		return d.Daily
	default:
		return nil
	}
}

// set stores the payload for one data type
func (d *UserData) set(dataType types.DataType, resp *CategoryResponse) {
	switch dataType {
	case types.DataTypeActivity:
		d.Activity = resp
	case types.DataTypeBody:
		d.Body = resp
	case types.DataTypeSleep:
		d.Sleep = resp
	case types.DataTypeNutrition:
		d.Nutrition = resp
	case types.DataTypeDaily:
		d.Daily = resp
	}
}

// FirstMetadata returns metadata from the first category, in AllDataTypes
// order, that has a first data item
func (d *UserData) FirstMetadata() models.RecordMetadata {
	for _, dt := range types.AllDataTypes {
		if meta, ok := d.Category(dt).DeviceMetadata(); ok {
			return meta
		}
	}
	return models.RecordMetadata{}
}

// RequestBudget gates requests on a budget shared with other processes
type RequestBudget interface {
	Wait(ctx context.Context) error
}

// TerraConfig configures a TerraClient
type TerraConfig struct {
	BaseURL           string
	APIKey            string
	DevID             string
	RequestsPerSecond int
	Timeout           time.Duration
	HTTPClient        *http.Client
	Breaker           *circuitbreaker.CircuitBreaker

	// Budget is optional
	Budget RequestBudget
}

// TerraClient talks to the Terra REST API. All requests share one limiter
// and one circuit breaker.
type TerraClient struct {
	baseURL    string
	apiKey     string
	devID      string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	budget     RequestBudget
	logger     *logging.Logger
}

// NewTerraClient creates a new Terra API client
func NewTerraClient(cfg *TerraConfig) (*TerraClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("terra config cannot be nil")
	}
	if cfg.APIKey == "" || cfg.DevID == "" {
		return nil, fmt.Errorf("terra API key and dev id are required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultTerraBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid terra base URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	breaker := cfg.Breaker
	if breaker == nil {
		bcfg := circuitbreaker.DefaultConfig("terra")
		bcfg.IsFailure = apperrors.IsRetryable
		breaker = circuitbreaker.NewCircuitBreaker(bcfg)
	}

	return &TerraClient{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		devID:      cfg.DevID,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		breaker:    breaker,
		budget:     cfg.Budget,
		logger:     logging.GetGlobalLogger().Component("terra"),
	}, nil
}

// GetActivityData fetches workouts and activities
func (c *TerraClient) GetActivityData(ctx context.Context, terraUserID, startDate, endDate string) (*CategoryResponse, error) {
	return c.getCategory(ctx, types.DataTypeActivity, terraUserID, startDate, endDate)
}

// GetBodyData fetches body measurements
func (c *TerraClient) GetBodyData(ctx context.Context, terraUserID, startDate, endDate string) (*CategoryResponse, error) {
	return c.getCategory(ctx, types.DataTypeBody, terraUserID, startDate, endDate)
}

// GetSleepData fetches sleep sessions
func (c *TerraClient) GetSleepData(ctx context.Context, terraUserID, startDate, endDate string) (*CategoryResponse, error) {
	return c.getCategory(ctx, types.DataTypeSleep, terraUserID, startDate, endDate)
}

// GetNutritionData fetches nutrition logs
func (c *TerraClient) GetNutritionData(ctx context.Context, terraUserID, startDate, endDate string) (*CategoryResponse, error) {
	return c.getCategory(ctx, types.DataTypeNutrition, terraUserID, startDate, endDate)
}

// GetDailyData fetches daily summaries
func (c *TerraClient) GetDailyData(ctx context.Context, terraUserID, startDate, endDate string) (*CategoryResponse, error) {
	return c.getCategory(ctx, types.DataTypeDaily, terraUserID, startDate, endDate)
}

// GetAllUserData fetches all five categories in parallel. Any category
// failure fails the whole call and cancels the remaining requests.
func (c *TerraClient) GetAllUserData(ctx context.Context, terraUserID, startDate, endDate string) (*UserData, error) {
	result := &UserData{}
	responses := make([]*CategoryResponse, len(types.AllDataTypes))

	g, gctx := errgroup.WithContext(ctx)
	for i, dt := range types.AllDataTypes {
		g.Go(func() error {
			resp, err := c.getCategory(gctx, dt, terraUserID, startDate, endDate)
			if err != nil {
				return fmt.Errorf("fetch %s data: %w", dt, err)
			}
			responses[i] = resp
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, dt := range types.AllDataTypes {
		result.set(dt, responses[i])
	}

	c.logger.WithFields(map[string]interface{}{
		"terraUserId": terraUserID,
		"startDate":   startDate,
		"endDate":     endDate,
		"activity":    len(result.Activity.Data),
		"body":        len(result.Body.Data),
		"sleep":       len(result.Sleep.Data),
		"nutrition":   len(result.Nutrition.Data),
		"daily":       len(result.Daily.Data),
	}).Debug("Fetched all user data")

	return result, nil
}

func (c *TerraClient) getCategory(ctx context.Context, dataType types.DataType, terraUserID, startDate, endDate string) (*CategoryResponse, error) {
	if terraUserID == "" {
		return nil, apperrors.NewInvalidParameterError("terraUserId", "cannot be empty")
	}

	query := url.Values{}
	query.Set("user_id", terraUserID)
	query.Set("start_date", startDate)
	query.Set("end_date", endDate)
	query.Set("to_webhook", "false")
	endpoint := "/" + string(dataType)

	var body []byte
	err := c.breaker.Execute(ctx, func() error {
		var reqErr error
		body, reqErr = c.doRequest(ctx, endpoint, query)
		return reqErr
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return nil, apperrors.NewProviderError(endpoint, err)
	}
	if err != nil {
		return nil, err
	}

	var resp CategoryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.NewProviderError(endpoint, fmt.Errorf("decode response: %w", err))
	}
	if resp.Data == nil {
		resp.Data = []json.RawMessage{}
	}
	return &resp, nil
}

// doRequest performs one rate-limited GET and maps failures onto provider errors
func (c *TerraClient) doRequest(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	if c.budget != nil {
		if err := c.budget.Wait(ctx); err != nil {
			return nil, fmt.Errorf("request budget wait: %w", err)
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("dev-id", c.devID)
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, apperrors.NewProviderTimeoutError(endpoint)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewProviderError(endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewProviderError(endpoint, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.WithField("endpoint", endpoint).Warn("Terra rate limit hit")
		return nil, apperrors.NewProviderRateLimitError(endpoint)
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.NewNotFoundError("terra user", query.Get("user_id"))
	case resp.StatusCode >= 400:
		return nil, apperrors.NewProviderError(endpoint, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body, 256)))
	}

	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
