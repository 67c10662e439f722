package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/bcdatalab/equitymap/internal/resilience"
)

const (
	defaultNominatimBaseURL = "https://nominatim.openstreetmap.org"
	defaultUserAgent        = "bc-employer-equity-explorer/1.0"
)

// nominatimPlace is one entry of the jsonv2 search response. Coordinates
// arrive as strings.
type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Nominatim geocodes municipality names against a Nominatim server,
// defaulting to the public openstreetmap.org instance.
type Nominatim struct {
	baseURL    string
	userAgent  string
	email      string
	httpClient *http.Client
}

// NominatimOption configures the Nominatim provider.
type NominatimOption func(*Nominatim)

// WithBaseURL points the provider at a different Nominatim instance.
func WithBaseURL(baseURL string) NominatimOption {
	return func(n *Nominatim) {
		n.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithUserAgent sets the User-Agent header. The public instance rejects
// requests without an identifying agent.
func WithUserAgent(ua string) NominatimOption {
	return func(n *Nominatim) {
		if ua != "" {
			n.userAgent = ua
		}
	}
}

// WithEmail adds the email etiquette parameter to every request.
func WithEmail(email string) NominatimOption {
	return func(n *Nominatim) {
		n.email = email
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) NominatimOption {
	return func(n *Nominatim) {
		if hc != nil {
			n.httpClient = hc
		}
	}
}

// NewNominatim creates a Nominatim provider with the given options.
func NewNominatim(opts ...NominatimOption) *Nominatim {
	n := &Nominatim{
		baseURL:    defaultNominatimBaseURL,
		userAgent:  defaultUserAgent,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name implements Provider.
func (n *Nominatim) Name() string { return "nominatim" }

// Geocode implements Provider. The province-qualified query is tried first,
// then the looser "name, BC" form; both coming back empty is a clean
// no-match, not an error.
func (n *Nominatim) Geocode(ctx context.Context, name string) (*Result, error) {
	queries := []string{
		name + ", British Columbia, Canada",
		name + ", BC",
	}
	for _, q := range queries {
		place, err := n.search(ctx, q)
		if err != nil {
			return nil, err
		}
		if place == nil {
			continue
		}

		lat, err := strconv.ParseFloat(place.Lat, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "nominatim: parse lat %q", place.Lat)
		}
		lon, err := strconv.ParseFloat(place.Lon, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "nominatim: parse lon %q", place.Lon)
		}
		return &Result{
			Latitude:    lat,
			Longitude:   lon,
			DisplayName: place.DisplayName,
			Matched:     true,
		}, nil
	}
	return &Result{Matched: false}, nil
}

// search runs one /search query and returns the top place, or nil when the
// response is empty.
func (n *Nominatim) search(ctx context.Context, query string) (*nominatimPlace, error) {
	params := url.Values{
		"format": {"jsonv2"},
		"limit":  {"1"},
		"q":      {query},
	}
	if n.email != "" {
		params.Set("email", n.email)
	}

	reqURL := n.baseURL + "/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "nominatim: build request")
	}
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		// Transport failures are worth one retry upstream.
		return nil, resilience.NewTransientError(eris.Wrap(err, "nominatim: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("nominatim: status %d for %q", resp.StatusCode, query)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "nominatim: read body"), 0)
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, eris.Wrap(err, "nominatim: parse response")
	}
	if len(places) == 0 {
		return nil, nil
	}
	return &places[0], nil
}
