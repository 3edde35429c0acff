package redis

import "testing"

func TestJoinKey(t *testing.T) {
	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"reconbot", []string{"lock", "reconcile:W1/live"}, "reconbot:lock:reconcile:W1/live"},
		{"", []string{"holdings", "live:BTCUSDT"}, "holdings:live:BTCUSDT"},
		{"app", []string{"reconcile"}, "app:reconcile"},
	}
	for _, tc := range tests {
		if got := joinKey(tc.prefix, tc.parts...); got != tc.want {
			t.Errorf("joinKey(%q, %v) = %q, want %q", tc.prefix, tc.parts, got, tc.want)
		}
	}
}

func TestOptions(t *testing.T) {
	opts, err := options(ClientConfig{Addr: "rediss://user:pw@cache.example:6380/2", PoolSize: 5})
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Addr != "cache.example:6380" || opts.Password != "pw" || opts.DB != 2 || opts.TLSConfig == nil {
		t.Errorf("url options = addr %s db %d tls %v", opts.Addr, opts.DB, opts.TLSConfig != nil)
	}
	if opts.PoolSize != 5 || opts.ClientName != "reconbot" {
		t.Errorf("pool %d name %q", opts.PoolSize, opts.ClientName)
	}

	opts, err = options(ClientConfig{Addr: "localhost:6379", Password: "x", DB: 3, TLSEnabled: true})
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.Password != "x" || opts.DB != 3 || opts.TLSConfig == nil {
		t.Errorf("plain options = %+v", opts)
	}

	if _, err := options(ClientConfig{Addr: "redis://bad host:1/x"}); err == nil {
		t.Error("expected parse error")
	}
}
