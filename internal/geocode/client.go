// Package geocode talks to the location microservice that resolves
// free-text place queries into administrative areas and coordinates.
package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/globaldothealth/linelist/internal/errs"
)

// Location is one candidate returned by the location service.
type Location struct {
	Latitude   float64
	Longitude  float64
	Country    string
	Admin1     string
	Admin2     string
	Admin3     string
	Place      string
	Name       string
	Resolution string
}

// Client calls the location service over HTTP.
type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

type geocodeResponse struct {
	Geometry struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"geometry"`
	Country    string `json:"country"`
	Admin1     string `json:"administrativeAreaLevel1"`
	Admin2     string `json:"administrativeAreaLevel2"`
	Admin3     string `json:"administrativeAreaLevel3"`
	Place      string `json:"place"`
	Name       string `json:"name"`
	Resolution string `json:"geoResolution"`
}

// Locate resolves a place query. A transport failure, a non-2xx response or
// an empty candidate list is a dependency failure: the caller asked for
// something the geocoder cannot satisfy.
func (c *Client) Locate(ctx context.Context, query string) ([]Location, error) {
	endpoint := c.base + "/geocode?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.DependencyFailedf("geocoding %q: %v", query, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errs.DependencyFailedf("geocoding %q: location service returned %s", query, resp.Status)
	}
	var candidates []geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&candidates); err != nil {
		return nil, errs.DependencyFailedf("geocoding %q: undecodable response: %v", query, err)
	}
	if len(candidates) == 0 {
		return nil, errs.DependencyFailedf("no locations found for %q", query)
	}
	out := make([]Location, 0, len(candidates))
	for _, cand := range candidates {
		out = append(out, Location{
			Latitude:   cand.Geometry.Latitude,
			Longitude:  cand.Geometry.Longitude,
			Country:    cand.Country,
			Admin1:     cand.Admin1,
			Admin2:     cand.Admin2,
			Admin3:     cand.Admin3,
			Place:      cand.Place,
			Name:       cand.Name,
			Resolution: cand.Resolution,
		})
	}
	return out, nil
}
