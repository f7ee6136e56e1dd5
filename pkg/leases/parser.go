package leases

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Lease is one DHCP binding observed in the lease source. It is rebuilt on every poll and
// never persisted by the watcher.
type Lease struct {
	MAC          string  `json:"mac"`
	IP           string  `json:"ip"`
	Hostname     string  `json:"hostname"`
	ExpiryTime   int64   `json:"expiry_time"`
	ClientID     *string `json:"client_id,omitempty"`
	Vendor       string  `json:"vendor,omitempty"`
	Model        string  `json:"model,omitempty"`
	SerialNumber string  `json:"serial_number,omitempty"`
	VendorClass  string  `json:"vendor_class,omitempty"`
}

// Clone returns a deep copy so that callbacks cannot observe each other's mutations.
func (l Lease) Clone() Lease {
	c := l
	if l.ClientID != nil {
		id := *l.ClientID
		c.ClientID = &id
	}
	return c
}

// ParseLine parses one dnsmasq lease line:
//
//	<expiry_unix_time> <mac> <ip> <hostname> [<client_id>]
//
// ok is false for blank lines, comments, lines with fewer than four fields and lines
// whose expiry is not an integer.
func ParseLine(line string) (lease Lease, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Lease{}, false
	}

	fields := strings.Fields(line)
	if len(fields) < 4 {
		return Lease{}, false
	}

	expiry, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Lease{}, false
	}

	lease = Lease{
		ExpiryTime: expiry,
		MAC:        strings.ToLower(fields[1]),
		IP:         fields[2],
		Hostname:   fields[3],
	}
	if len(fields) > 4 && fields[4] != "*" {
		id := fields[4]
		lease.ClientID = &id
	}
	return lease, true
}

// Parse reads every valid lease from r, skipping lines ParseLine rejects.
func Parse(r io.Reader) ([]Lease, error) {
	var leases []Lease

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if lease, ok := ParseLine(scanner.Text()); ok {
			leases = append(leases, lease)
		}
	}
	if err := scanner.Err(); err != nil {
		return leases, fmt.Errorf("failed to read lease source: %w", err)
	}

	return leases, nil
}
