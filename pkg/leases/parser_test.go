package leases

import (
	"strings"
	"testing"
)

func TestParseLine(t *testing.T) {
	lease, ok := ParseLine("1700000000 AA:BB:CC:DD:EE:FF 10.0.0.5 myhost 01:aa")
	if !ok {
		t.Fatal("expected line to parse")
	}

	if lease.MAC != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("expected lowercased mac, got %s", lease.MAC)
	}
	if lease.IP != "10.0.0.5" {
		t.Errorf("expected ip 10.0.0.5, got %s", lease.IP)
	}
	if lease.Hostname != "myhost" {
		t.Errorf("expected hostname myhost, got %s", lease.Hostname)
	}
	if lease.ExpiryTime != 1700000000 {
		t.Errorf("expected expiry 1700000000, got %d", lease.ExpiryTime)
	}
	if lease.ClientID == nil || *lease.ClientID != "01:aa" {
		t.Errorf("expected client id 01:aa, got %v", lease.ClientID)
	}
}

func TestParseLineSkips(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"blank", ""},
		{"whitespace", "   \t "},
		{"comment", "# 1700000000 aa:bb:cc:dd:ee:ff 10.0.0.5 host"},
		{"too few fields", "1700000000 aa:bb:cc:dd:ee:ff 10.0.0.5"},
		{"non-integer expiry", "soon aa:bb:cc:dd:ee:ff 10.0.0.5 host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := ParseLine(tt.line); ok {
				t.Errorf("expected %q to be skipped", tt.line)
			}
		})
	}
}

func TestParseLineOptionalFields(t *testing.T) {
	lease, ok := ParseLine("1700000000 aa:bb:cc:dd:ee:01 10.0.0.6 *")
	if !ok {
		t.Fatal("expected four-field line to parse")
	}
	if lease.ClientID != nil {
		t.Errorf("expected no client id, got %v", *lease.ClientID)
	}
	if lease.Hostname != "*" {
		t.Errorf("expected dnsmasq placeholder hostname to be kept, got %s", lease.Hostname)
	}

	lease, _ = ParseLine("1700000000 aa:bb:cc:dd:ee:01 10.0.0.6 host *")
	if lease.ClientID != nil {
		t.Errorf("expected * client id to mean absent, got %v", *lease.ClientID)
	}
}

func TestParse(t *testing.T) {
	input := strings.Join([]string{
		"# dnsmasq leases",
		"1700000000 AA:BB:CC:DD:EE:01 10.0.0.5 sw1 01:aa",
		"",
		"garbage",
		"1700000100 aa:bb:cc:dd:ee:02 10.0.0.6 sw2",
	}, "\n")

	leases, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(leases) != 2 {
		t.Fatalf("expected 2 leases, got %d", len(leases))
	}
	if leases[0].MAC != "aa:bb:cc:dd:ee:01" || leases[1].Hostname != "sw2" {
		t.Errorf("unexpected leases: %+v", leases)
	}
}

func TestLeaseClone(t *testing.T) {
	id := "01:aa"
	orig := Lease{MAC: "aa", ClientID: &id}

	c := orig.Clone()
	*c.ClientID = "changed"
	c.MAC = "bb"

	if *orig.ClientID != "01:aa" || orig.MAC != "aa" {
		t.Errorf("clone shares state with original: %+v", orig)
	}
}
