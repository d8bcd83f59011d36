package tle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultURLTemplate fetches one catalog number from CelesTrak as 3-line text.
const DefaultURLTemplate = "https://celestrak.org/NORAD/elements/gp.php?CATNR=%d&FORMAT=tle"

// maxBodyBytes caps a single response.
const maxBodyBytes = 50 << 20

// ErrNotFound is returned when the source has no elements for a catalog id.
var ErrNotFound = errors.New("no elements for catalog id")

// Fetcher retrieves element sets for single catalog ids over HTTP.
// Concurrent requests for the same id share one round trip.
type Fetcher struct {
	urlTemplate string
	httpClient  *http.Client
	logger      *slog.Logger
	group       singleflight.Group
}

// NewFetcher creates a Fetcher. urlTemplate must contain one %d verb for the
// catalog id; an empty template selects DefaultURLTemplate.
func NewFetcher(urlTemplate string, logger *slog.Logger) *Fetcher {
	if urlTemplate == "" {
		urlTemplate = DefaultURLTemplate
	}
	return &Fetcher{
		urlTemplate: urlTemplate,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// URLFor returns the request URL for a catalog id.
func (f *Fetcher) URLFor(catalogID int) string {
	if !strings.Contains(f.urlTemplate, "%d") {
		return f.urlTemplate
	}
	return fmt.Sprintf(f.urlTemplate, catalogID)
}

// Elements performs an HTTP GET for one catalog id and tags the body as
// structured (JSON) or raw text.
func (f *Fetcher) Elements(ctx context.Context, catalogID int) (Payload, error) {
	v, err, shared := f.group.Do(strconv.Itoa(catalogID), func() (any, error) {
		return f.fetch(ctx, catalogID)
	})
	if err != nil {
		return Payload{}, err
	}
	if shared {
		f.logger.Debug("element fetch coalesced", "norad_id", catalogID)
	}
	p := v.(Payload)
	// Callers may retain the body; do not share the backing array.
	p.Body = append([]byte(nil), p.Body...)
	return p, nil
}

func (f *Fetcher) fetch(ctx context.Context, catalogID int) (Payload, error) {
	url := f.URLFor(catalogID)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Payload{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Payload{}, fmt.Errorf("fetching elements for %d: %w", catalogID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Payload{}, fmt.Errorf("%w %d", ErrNotFound, catalogID)
	}
	if resp.StatusCode != http.StatusOK {
		return Payload{}, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return Payload{}, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return Payload{}, fmt.Errorf("response from %s exceeds %d byte limit", url, maxBodyBytes)
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || strings.EqualFold(trimmed, "No GP data found") {
		return Payload{}, fmt.Errorf("%w %d", ErrNotFound, catalogID)
	}

	kind := KindRaw
	if isJSON(resp.Header.Get("Content-Type"), body) {
		kind = KindStructured
	}

	f.logger.Debug("elements fetched",
		"norad_id", catalogID,
		"kind", kind.String(),
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return Payload{Kind: kind, Body: body}, nil
}

func isJSON(contentType string, body []byte) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt == "application/json" {
		return true
	}
	s := strings.TrimSpace(string(body))
	return strings.HasPrefix(s, "{")
}
