package layers

import (
	"fmt"
	"io"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/daycast/daycast/internal/config"
)

const defaultFetchTimeout = 10 * time.Second

// Remote builds its feature vector from a Prometheus text-exposition
// endpoint: every metric family becomes one feature, summed across its
// series. This lets a layer score externally computed signals (an
// ephemeris service, a feature store) without the engine knowing their
// shape.
//
// Remote is the one unit kind that is not a pure function of the date.
type Remote struct {
	meta
	endpoint string
	client   *http.Client
}

// scoreFeature, when present in the scraped families, is used directly as
// the built-in daily score.
const scoreFeature = "daycast_favorability"

// NewRemote returns the remote unit for the given layer slot. The HTTP
// client is built once and reused across every day of the run.
func NewRemote(id int, accuracy float64, endpoint string, auth config.AuthConfig) *Remote {
	return &Remote{
		meta: meta{
			id:          id,
			name:        "Remote Features",
			accuracy:    accuracy,
			methodology: "Prometheus text-exposition scrape, one feature per metric family",
			description: "Favorability features fetched from an external metrics endpoint; each metric family is summed into a single named feature.",
			factors:     []string{"remote metric families"},
		},
		endpoint: endpoint,
		client: &http.Client{
			Transport: &authRoundTripper{base: http.DefaultTransport, auth: auth},
			Timeout:   defaultFetchTimeout,
		},
	}
}

func (r *Remote) Features(date time.Time) (map[string]any, error) {
	mfs, err := r.fetch()
	if err != nil {
		return nil, fmt.Errorf("remote layer %d: %w", r.id, err)
	}
	features := make(map[string]any, len(mfs)+2)
	for name, mf := range mfs {
		features[name] = sumFamily(mf)
	}
	features["date"] = date.Format("2006-01-02")
	features["metric_families"] = len(mfs)
	return features, nil
}

// Score uses the daycast_favorability family when the endpoint exposes
// one, and stays neutral otherwise — remote layers are expected to be
// rule-driven.
func (r *Remote) Score(date time.Time) (float64, error) {
	mfs, err := r.fetch()
	if err != nil {
		return 0, fmt.Errorf("remote layer %d: %w", r.id, err)
	}
	if mf, ok := mfs[scoreFeature]; ok {
		return clamp01(sumFamily(mf)), nil
	}
	return 0.5, nil
}

// fetch performs an HTTP GET and returns parsed metric families.
func (r *Remote) fetch() (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequest(http.MethodGet, r.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from rd into metric
// families. A partial result with a non-fatal parse warning is still
// returned successfully.
func parseMetrics(rd io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(rd)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a
// MetricFamily. Returns 0 if mf is nil.
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}

// authRoundTripper injects authentication headers into every outgoing
// request, per the layer's configured auth mode.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}
