package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	authPath     = "/EstacoesTelemetricas/OAUth/v1"
	readingsPath = "/EstacoesTelemetricas/HidroinfoanaSerieTelemetricaAdotada/v1"

	// Query parameters are named by the provider, spaces included.
	paramStation    = "Código da Estação"
	paramFilterType = "Tipo Filtro Data"
	paramDate       = "Data de Busca (yyyy-MM-dd)"
	paramRange      = "Range Intervalo de busca"

	filterByReadingDate = "DATA_LEITURA"
	rangeTwoDays        = "DIAS_2"

	opAuthenticate  = "authenticate"
	opFetchReadings = "fetch_readings"

	dateLayout = "2006-01-02"
)

var (
	errEmptyToken     = errors.New("provider returned no token")
	errNotSuccessful  = errors.New("provider reported unsuccessful authentication")
	errNoToken        = errors.New("no token supplied")
	errEmptyStation   = errors.New("station code cannot be empty")
	errDecodeResponse = errors.New("failed to decode provider response")
)

// Client calls the telemetry provider over HTTP. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	location   *time.Location
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client built from Config.Timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient builds a Client for cfg.BaseURL.
func NewClient(cfg *Config, opts ...ClientOption) *Client {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		location:   loc,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// HTTPClient exposes the underlying client so tests can intercept it.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Authenticate exchanges credentials for a bearer token.
// Every failure is an *ExternalServiceError wrapping ErrAuthentication.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+authPath, nil)
	if err != nil {
		return nil, c.externalError(opAuthenticate, ErrAuthentication, 0, err)
	}

	req.Header.Set("Identificador", creds.Identifier)
	req.Header.Set("Senha", creds.Password)
	req.Header.Set("Accept", "application/json")

	var body envelope[authItems]

	status, err := c.do(req, &body)
	if err != nil {
		return nil, c.externalError(opAuthenticate, ErrAuthentication, status, err)
	}

	if !bool(body.Items.Success) {
		return nil, c.externalError(opAuthenticate, ErrAuthentication, status,
			fmt.Errorf("%w: %s", errNotSuccessful, body.Message))
	}

	if strings.TrimSpace(body.Items.Token) == "" {
		return nil, c.externalError(opAuthenticate, ErrAuthentication, status, errEmptyToken)
	}

	token := &Token{
		Value:      body.Items.Token,
		Identifier: string(body.Items.Identifier),
		Profile:    string(body.Items.Profile),
	}

	if validity, ok := parseTimestamp(string(body.Items.Validity), c.location); ok {
		token.ExpiresAt = &validity
	}

	c.logger.Info("Authenticated with telemetry provider",
		slog.String("identifier", token.Identifier),
		slog.String("profile", token.Profile))

	return token, nil
}

// FetchReadings returns the station's measurements taken on the calendar day of date,
// as written in date's own location. Measurement timestamps are read in the client
// location; records dated outside that day or without a timestamp are dropped.
// Every failure is an *ExternalServiceError wrapping ErrFetch.
func (c *Client) FetchReadings(
	ctx context.Context,
	token *Token,
	stationCode string,
	date time.Time,
) ([]Measurement, error) {
	if token == nil || token.Value == "" {
		return nil, c.externalError(opFetchReadings, ErrFetch, 0, errNoToken)
	}

	if strings.TrimSpace(stationCode) == "" {
		return nil, c.externalError(opFetchReadings, ErrFetch, 0, errEmptyStation)
	}

	day := date.Format(dateLayout)

	query := url.Values{}
	query.Set(paramStation, stationCode)
	query.Set(paramFilterType, filterByReadingDate)
	query.Set(paramDate, day)
	query.Set(paramRange, rangeTwoDays)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+readingsPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, c.externalError(opFetchReadings, ErrFetch, 0, err)
	}

	req.Header.Set("Authorization", "Bearer "+token.Value)
	req.Header.Set("Accept", "application/json")

	var body envelope[[]readingItem]

	status, err := c.do(req, &body)
	if err != nil {
		return nil, c.externalError(opFetchReadings, ErrFetch, status, err)
	}

	measurements := make([]Measurement, 0, len(body.Items))

	for _, item := range body.Items {
		m, ok := c.toMeasurement(item, stationCode)
		if !ok || m.MeasuredAt.In(c.location).Format(dateLayout) != day {
			continue
		}

		measurements = append(measurements, m)
	}

	c.logger.Debug("Fetched telemetry readings",
		slog.String("station_code", stationCode),
		slog.String("date", day),
		slog.Int("received", len(body.Items)),
		slog.Int("kept", len(measurements)))

	return measurements, nil
}

func (c *Client) toMeasurement(item readingItem, requestedStation string) (Measurement, bool) {
	measuredAt, ok := parseTimestamp(string(item.MeasuredAt), c.location)
	if !ok {
		return Measurement{}, false
	}

	station := string(item.StationCode)
	if station == "" {
		station = requestedStation
	}

	m := Measurement{
		StationCode:          station,
		MeasuredAt:           measuredAt,
		Rainfall:             item.Rainfall.Value,
		RainfallStatus:       string(item.RainfallStatus),
		ReservoirLevel:       item.ReservoirLevel.Value,
		ReservoirLevelStatus: string(item.ReservoirLevelStatus),
		Discharge:            item.Discharge.Value,
		DischargeStatus:      string(item.DischargeStatus),
	}

	if updatedAt, ok := parseTimestamp(string(item.UpdatedAt), c.location); ok {
		m.UpdatedAt = &updatedAt
	}

	return m, true
}

// do sends req and decodes a 2xx JSON body into out. It returns the HTTP status when
// a response was received.
func (c *Client) do(req *http.Request, out any) (int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return resp.StatusCode, fmt.Errorf("unexpected response: %s", truncate(string(payload)))
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %w", errDecodeResponse, err)
	}

	return resp.StatusCode, nil
}

func (c *Client) externalError(op string, kind error, status int, err error) error {
	c.logger.Warn("Telemetry provider call failed",
		slog.String("op", op),
		slog.Int("status_code", status),
		slog.String("error", err.Error()))

	return &ExternalServiceError{Op: op, Kind: kind, StatusCode: status, Err: err}
}

func truncate(s string) string {
	const limit = 256

	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}

	return s[:limit] + "..."
}
