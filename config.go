package reverb

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds the recognized client options of spec.md §6. AppKey, AppSecret,
// Host, and Transport are required; everything else has a default applied by
// withDefaults.
type Config struct {
	AppKey    string
	AppSecret string
	Host      string
	Port      int
	Scheme    string // "ws" or "wss"

	ClientName string // sent as ?client= on the connection URL
	Version    string // sent as ?version= on the connection URL

	// ReconnectDisabled turns off automatic reconnection (spec.md §6's
	// reconnect_enabled defaults to true, so the zero value here is the
	// enabled, spec-conformant default; a bool can't represent "not set"
	// and a default-true field would leave Config{} silently contradicting
	// the documented default, so the field is inverted instead).
	ReconnectDisabled    bool
	ReconnectDelayMin    time.Duration
	ReconnectDelayMax    time.Duration
	ReconnectMultiplier  float64
	ReconnectMaxAttempts int // 0 means unbounded

	PingInterval        time.Duration
	SubscriptionTimeout time.Duration

	Transport     Transport
	ErrorReporter ErrorReporter
}

// withDefaults returns a copy of c with unset fields filled in per spec.md
// §6's defaults table, and validates the required fields.
func (c Config) withDefaults() (Config, error) {
	if c.AppKey == "" {
		return c, configurationError("app_key is required")
	}
	if c.AppSecret == "" {
		return c, configurationError("app_secret is required")
	}
	if c.Host == "" {
		return c, configurationError("host is required")
	}

	if c.Scheme == "" {
		c.Scheme = "wss"
	}
	if c.Scheme != "ws" && c.Scheme != "wss" {
		return c, configurationError(fmt.Sprintf("scheme must be ws or wss, got %q", c.Scheme))
	}
	if c.Port == 0 {
		c.Port = 443
	}
	if c.ReconnectDelayMin == 0 {
		c.ReconnectDelayMin = time.Second
	}
	if c.ReconnectDelayMax == 0 {
		c.ReconnectDelayMax = 30 * time.Second
	}
	if c.ReconnectMultiplier == 0 {
		c.ReconnectMultiplier = 2.0
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.SubscriptionTimeout == 0 {
		c.SubscriptionTimeout = 10 * time.Second
	}
	if c.Transport == nil {
		return c, configurationError("transport is required (see transport/wsconn for the default adapter)")
	}
	if c.ErrorReporter == nil {
		c.ErrorReporter = defaultErrorReporter
	}

	return c, nil
}

// connURL builds the broker connection URL per spec.md §6:
// {scheme}://{host}:{port}/app/{app_key}?protocol=7&client={client_name}&version={version}
func (c Config) connURL() string {
	q := url.Values{"protocol": {"7"}}
	if c.ClientName != "" {
		q.Set("client", c.ClientName)
	}
	if c.Version != "" {
		q.Set("version", c.Version)
	}
	u := url.URL{
		Scheme:   c.Scheme,
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/app/" + c.AppKey,
		RawQuery: q.Encode(),
	}
	return u.String()
}
