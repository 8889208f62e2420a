package main

import "testing"

func TestIPGuardDefaultCeiling(t *testing.T) {
	t.Setenv("MAX_IP_CONCURRENT_CONNECTIONS", "")
	t.Setenv("CONCURRENT_LIMIT_WHITELIST", "")

	g, err := NewIPGuard()
	if err != nil {
		t.Fatalf("NewIPGuard: %v", err)
	}

	for i := 0; i < defaultMaxConnectionsPerIP; i++ {
		if !g.Admit("203.0.113.5") {
			t.Fatalf("expected admission %d of %d to succeed", i+1, defaultMaxConnectionsPerIP)
		}
	}
	if g.Admit("203.0.113.5") {
		t.Fatalf("expected admission to fail once the default ceiling is reached")
	}
}

func TestIPGuardCustomCeiling(t *testing.T) {
	t.Setenv("MAX_IP_CONCURRENT_CONNECTIONS", "2")
	t.Setenv("CONCURRENT_LIMIT_WHITELIST", "")

	g, err := NewIPGuard()
	if err != nil {
		t.Fatalf("NewIPGuard: %v", err)
	}

	if !g.Admit("198.51.100.1") || !g.Admit("198.51.100.1") {
		t.Fatalf("expected both admissions within the custom ceiling to succeed")
	}
	if g.Admit("198.51.100.1") {
		t.Fatalf("expected a third admission to be refused")
	}
}

func TestIPGuardZeroCeilingDisablesCheck(t *testing.T) {
	t.Setenv("MAX_IP_CONCURRENT_CONNECTIONS", "0")
	t.Setenv("CONCURRENT_LIMIT_WHITELIST", "")

	g, err := NewIPGuard()
	if err != nil {
		t.Fatalf("NewIPGuard: %v", err)
	}

	for i := 0; i < 50; i++ {
		if !g.Admit("192.0.2.9") {
			t.Fatalf("expected a zero ceiling to allow unlimited admissions, failed at %d", i)
		}
	}
}

func TestIPGuardReleaseFreesSlot(t *testing.T) {
	t.Setenv("MAX_IP_CONCURRENT_CONNECTIONS", "1")
	t.Setenv("CONCURRENT_LIMIT_WHITELIST", "")

	g, err := NewIPGuard()
	if err != nil {
		t.Fatalf("NewIPGuard: %v", err)
	}

	if !g.Admit("192.0.2.10") {
		t.Fatalf("expected the first admission to succeed")
	}
	if g.Admit("192.0.2.10") {
		t.Fatalf("expected the second admission to be refused before release")
	}

	g.Release("192.0.2.10")
	if !g.Admit("192.0.2.10") {
		t.Fatalf("expected admission to succeed again after Release frees the slot")
	}
}

func TestIPGuardWhitelistExemptsRange(t *testing.T) {
	t.Setenv("MAX_IP_CONCURRENT_CONNECTIONS", "1")
	t.Setenv("CONCURRENT_LIMIT_WHITELIST", "203.0.113.0/24")

	g, err := NewIPGuard()
	if err != nil {
		t.Fatalf("NewIPGuard: %v", err)
	}

	for i := 0; i < 10; i++ {
		if !g.Admit("203.0.113.42") {
			t.Fatalf("expected whitelisted range to bypass the per-IP ceiling, failed at %d", i)
		}
	}
	if !g.Admit("198.51.100.7") {
		t.Fatalf("expected first admission from a non-whitelisted IP to still succeed")
	}
	if g.Admit("198.51.100.7") {
		t.Fatalf("expected a non-whitelisted IP to still be subject to the ceiling")
	}
}

func TestIPGuardWildcardExemptsEverything(t *testing.T) {
	t.Setenv("MAX_IP_CONCURRENT_CONNECTIONS", "1")
	t.Setenv("CONCURRENT_LIMIT_WHITELIST", "*")

	g, err := NewIPGuard()
	if err != nil {
		t.Fatalf("NewIPGuard: %v", err)
	}

	for i := 0; i < 10; i++ {
		if !g.Admit("10.0.0.1") {
			t.Fatalf("expected wildcard whitelist to exempt all IPs, failed at %d", i)
		}
	}
}

func TestIPGuardInvalidWhitelistIsConfigError(t *testing.T) {
	t.Setenv("MAX_IP_CONCURRENT_CONNECTIONS", "")
	t.Setenv("CONCURRENT_LIMIT_WHITELIST", "not-a-cidr")

	_, err := NewIPGuard()
	if err == nil {
		t.Fatalf("expected an invalid whitelist entry to fail")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
}
