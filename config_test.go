package reverb

import "testing"

func TestWithDefaultsRequiresAppKey(t *testing.T) {
	_, err := Config{AppSecret: "s", Host: "h", Transport: &fakeTransport{}}.withDefaults()
	if !IsKind(err, KindConfiguration) {
		t.Errorf("err = %v, want KindConfiguration", err)
	}
}

func TestWithDefaultsRejectsBadScheme(t *testing.T) {
	_, err := Config{AppKey: "k", AppSecret: "s", Host: "h", Scheme: "http", Transport: &fakeTransport{}}.withDefaults()
	if !IsKind(err, KindConfiguration) {
		t.Errorf("err = %v, want KindConfiguration for scheme=http", err)
	}
}

func TestWithDefaultsFillsDefaults(t *testing.T) {
	cfg, err := Config{AppKey: "k", AppSecret: "s", Host: "h", Transport: &fakeTransport{}}.withDefaults()
	if err != nil {
		t.Fatalf("withDefaults: %v", err)
	}
	if cfg.Scheme != "wss" || cfg.Port != 443 {
		t.Errorf("got scheme=%q port=%d, want wss/443", cfg.Scheme, cfg.Port)
	}
	if cfg.PingInterval == 0 || cfg.SubscriptionTimeout == 0 {
		t.Error("timing defaults must be non-zero")
	}
	if cfg.ErrorReporter == nil {
		t.Error("ErrorReporter must default to defaultErrorReporter")
	}
	if cfg.ReconnectDisabled {
		t.Error("ReconnectDisabled must default to false, per spec.md §6's reconnect_enabled defaulting to true")
	}
}

func TestConnURL(t *testing.T) {
	cfg, err := Config{
		AppKey: "my-key", AppSecret: "s", Host: "reverb.example.com", Port: 443,
		Scheme: "wss", ClientName: "reverb-go", Version: "1.0.0", Transport: &fakeTransport{},
	}.withDefaults()
	if err != nil {
		t.Fatalf("withDefaults: %v", err)
	}

	got := cfg.connURL()
	want := "wss://reverb.example.com:443/app/my-key?client=reverb-go&protocol=7&version=1.0.0"
	if got != want {
		t.Errorf("connURL() = %q, want %q", got, want)
	}
}
