package geo

import (
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

const unknown = "Unknown"

// Location is the coarse place attached to sessions and audit events.
type Location struct {
	Country string `json:"country"`
	City    string `json:"city"`
	Region  string `json:"region"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s, %s (%s)", l.City, l.Country, l.Region)
}

// LocalNetwork is reported for clinic-internal and unresolvable addresses.
var LocalNetwork = Location{Country: "SG", City: "Singapore", Region: "Local Network"}

// Unresolved is reported when no database is loaded or the lookup misses.
var Unresolved = Location{Country: unknown, City: unknown, Region: unknown}

// Locator maps IP addresses to locations. Without a city database only the
// local-network rule applies.
type Locator struct {
	cityReader *geoip2.Reader
}

// NewLocator opens the MaxMind city database at cityDBPath. An empty path
// yields a rule-only locator.
func NewLocator(cityDBPath string) (*Locator, error) {
	if cityDBPath == "" {
		return &Locator{}, nil
	}
	cityReader, err := geoip2.Open(cityDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open city database: %w", err)
	}
	return &Locator{cityReader: cityReader}, nil
}

func (l *Locator) Close() {
	if l != nil && l.cityReader != nil {
		l.cityReader.Close()
	}
}

// Lookup never fails; addresses it cannot place come back Unresolved.
func (l *Locator) Lookup(ipAddress string) Location {
	ipAddress = strings.TrimSpace(ipAddress)
	if ipAddress == "" || ipAddress == "unknown" ||
		strings.HasPrefix(ipAddress, "192.168") || strings.HasPrefix(ipAddress, "10.") {
		return LocalNetwork
	}

	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return Unresolved
	}
	if ip.IsPrivate() || ip.IsLoopback() {
		return LocalNetwork
	}
	if l == nil || l.cityReader == nil {
		return Unresolved
	}

	record, err := l.cityReader.City(ip)
	if err != nil || record.Country.IsoCode == "" {
		return Unresolved
	}
	loc := Location{Country: record.Country.IsoCode, City: record.City.Names["en"], Region: unknown}
	if loc.City == "" {
		loc.City = unknown
	}
	if len(record.Subdivisions) > 0 {
		if name := record.Subdivisions[0].Names["en"]; name != "" {
			loc.Region = name
		}
	}
	return loc
}
