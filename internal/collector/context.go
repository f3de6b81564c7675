package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/graaaaa/activity-telemetry/internal/event"
)

// DefaultLocationURL is the public IP geolocation endpoint queried once per process.
const DefaultLocationURL = "https://ipapi.co/json/"

// ClientInfo is host-supplied identity that cannot be detected from the
// process itself, such as the browser of an embedding UI.
type ClientInfo struct {
	Browser        string
	BrowserVersion string
	UserAgent      string
	ScreenWidth    int
	ScreenHeight   int
}

// DeviceResolver computes the device context once and returns the same
// snapshot for the rest of the process lifetime.
type DeviceResolver struct {
	resolve func() *event.DeviceContext
}

// NewDeviceResolver returns a resolver that merges info with detected host facts.
func NewDeviceResolver(info ClientInfo) *DeviceResolver {
	return &DeviceResolver{
		resolve: sync.OnceValue(func() *event.DeviceContext {
			return detectDevice(info)
		}),
	}
}

// Resolve returns the memoized device context.
func (r *DeviceResolver) Resolve() *event.DeviceContext {
	if r == nil {
		return nil
	}
	return r.resolve()
}

func detectDevice(info ClientInfo) *event.DeviceContext {
	host, _ := os.Hostname()
	return &event.DeviceContext{
		Platform:       platformClass(runtime.GOOS),
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		Browser:        info.Browser,
		BrowserVersion: info.BrowserVersion,
		UserAgent:      info.UserAgent,
		ScreenWidth:    info.ScreenWidth,
		ScreenHeight:   info.ScreenHeight,
		Language:       detectLanguage(os.Getenv),
		Timezone:       detectTimezone(os.Getenv),
		Hostname:       host,
	}
}

func platformClass(goos string) string {
	switch goos {
	case "android", "ios":
		return "mobile"
	case "darwin", "windows", "linux", "freebsd", "openbsd", "netbsd":
		return "desktop"
	case "js", "wasip1":
		return "web"
	default:
		return "other"
	}
}

// detectLanguage turns a POSIX locale such as en_US.UTF-8 into a BCP 47 tag.
func detectLanguage(getenv func(string) string) string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := getenv(key)
		if v == "" {
			continue
		}
		v, _, _ = strings.Cut(v, ".")
		v, _, _ = strings.Cut(v, "@")
		if v == "C" || v == "POSIX" || v == "" {
			continue
		}
		return strings.ReplaceAll(v, "_", "-")
	}
	return ""
}

func detectTimezone(getenv func(string) string) string {
	if tz := strings.TrimPrefix(getenv("TZ"), ":"); tz != "" {
		return tz
	}
	if name := time.Local.String(); name != "Local" {
		return name
	}
	name, _ := time.Now().Zone()
	return name
}

// LocationResolver performs at most one coarse geolocation lookup per
// process. Success and failure are both final.
type LocationResolver struct {
	url    string
	client *http.Client
	logger *slog.Logger

	once sync.Once
	done chan struct{}
	loc  atomic.Pointer[event.LocationContext]
}

// LocationOption configures a LocationResolver.
type LocationOption func(*LocationResolver)

// WithLocationURL overrides the lookup endpoint.
func WithLocationURL(url string) LocationOption {
	return func(r *LocationResolver) { r.url = url }
}

// WithLocationHTTPClient sets the HTTP client used for the lookup.
func WithLocationHTTPClient(c *http.Client) LocationOption {
	return func(r *LocationResolver) { r.client = c }
}

// WithLocationLogger sets the logger.
func WithLocationLogger(l *slog.Logger) LocationOption {
	return func(r *LocationResolver) { r.logger = l }
}

// NewLocationResolver creates a resolver. Call Start to issue the lookup.
func NewLocationResolver(opts ...LocationOption) *LocationResolver {
	r := &LocationResolver{
		url:    DefaultLocationURL,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start issues the lookup in the background. Later calls are no-ops.
func (r *LocationResolver) Start(ctx context.Context) {
	r.once.Do(func() {
		go func() {
			defer close(r.done)
			loc, err := r.lookup(ctx)
			if err != nil {
				r.logger.Debug("location lookup failed", "error", err)
				return
			}
			r.loc.Store(loc)
		}()
	})
}

// Current returns the resolved location, or nil while pending or after failure.
// Never blocks.
func (r *LocationResolver) Current() *event.LocationContext {
	if r == nil {
		return nil
	}
	return r.loc.Load()
}

// Wait blocks until the single lookup finished or ctx is done.
func (r *LocationResolver) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type ipLookupResponse struct {
	IP          string   `json:"ip"`
	City        string   `json:"city"`
	CountryName string   `json:"country_name"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Error       bool     `json:"error"`
	Reason      string   `json:"reason"`
}

func (r *LocationResolver) lookup(ctx context.Context) (*event.LocationContext, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("location lookup status %d", resp.StatusCode)
	}

	var body ipLookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode location: %w", err)
	}
	if body.Error {
		return nil, fmt.Errorf("location lookup refused: %s", body.Reason)
	}

	loc := &event.LocationContext{
		IP:        body.IP,
		Country:   body.CountryName,
		City:      body.City,
		Latitude:  body.Latitude,
		Longitude: body.Longitude,
	}
	if loc.IsZero() {
		return nil, fmt.Errorf("location lookup returned no data")
	}
	return loc, nil
}
