package analyzer

import "testing"

func TestWhitelistContainsIP(t *testing.T) {
	w := NewWhitelist([]string{"10.0.0.0/8", " 203.0.113.7 ", "2001:db8::1", "not-an-ip", "192.0.2.0/33"})
	if w.Len() != 3 {
		t.Fatalf("Len = %d; want 3 valid entries", w.Len())
	}

	tests := map[string]bool{
		"10.20.30.40":   true,
		"203.0.113.7":   true,
		"203.0.113.8":   false,
		"2001:db8::1":   true,
		"[2001:db8::1]": true,
		"2001:db8::2":   false,
		"garbage":       false,
		"":              false,
	}
	for ip, want := range tests {
		if got := w.ContainsIP(ip); got != want {
			t.Errorf("ContainsIP(%q) = %v; want %v", ip, got, want)
		}
	}
}

func TestWhitelistUpdateReplaces(t *testing.T) {
	w := NewWhitelist([]string{"10.0.0.0/8"})
	w.Update([]string{"192.168.0.0/16"})

	if w.ContainsIP("10.1.1.1") {
		t.Error("old entry still matches after Update")
	}
	if !w.ContainsIP("192.168.3.4") {
		t.Error("new entry does not match")
	}

	w.Update(nil)
	if w.Len() != 0 || w.ContainsIP("192.168.3.4") {
		t.Error("empty Update should clear the whitelist")
	}
}
