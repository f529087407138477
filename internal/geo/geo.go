package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// StateResolver resolves a client IP to a subdivision (state) code using a
// MaxMind GeoLite2 database. The gateway uses it to fill in the state
// dimension for payloads that arrive without one.
type StateResolver struct {
	reader *geoip2.Reader
}

// NewStateResolver opens the GeoIP database at dbPath.
func NewStateResolver(dbPath string) (*StateResolver, error) {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &StateResolver{reader: reader}, nil
}

// Resolve returns the ISO subdivision code for ip, or "" when the IP is
// unparsable or the database has no subdivision for it.
func (r *StateResolver) Resolve(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	record, err := r.reader.City(parsed)
	if err != nil {
		return ""
	}
	if len(record.Subdivisions) > 0 {
		return record.Subdivisions[0].IsoCode
	}
	return ""
}

// Close closes the GeoIP database.
func (r *StateResolver) Close() error {
	if r.reader != nil {
		return r.reader.Close()
	}
	return nil
}
