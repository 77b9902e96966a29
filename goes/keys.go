// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package goes

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Object is a listed bucket entry that passed the key filter.
type Object struct {
	Key      string
	Size     int64
	ScanTime time.Time
}

// HourPrefix computes the listing prefix for one UTC hour of a sector's
// product, e.g. "ABI-L2-CMIPC/2024/167/12/".
func HourPrefix(sector Sector, hour time.Time) string {
	hour = hour.UTC()
	return fmt.Sprintf("%s/%d/%03d/%02d/", sector.Product(), hour.Year(), hour.YearDay(), hour.Hour())
}

// HourPrefixes returns the prefixes for every UTC hour overlapping [start, end].
func HourPrefixes(sector Sector, start, end time.Time) []string {
	var prefixes []string
	for hour := start.UTC().Truncate(time.Hour); !hour.After(end.UTC()); hour = hour.Add(time.Hour) {
		prefixes = append(prefixes, HourPrefix(sector, hour))
	}
	return prefixes
}

// ParseScanTime extracts the scan-start timestamp from an ABI object key.
// Keys embed it as sYYYYDOYHHMMSSt where the trailing digit is tenths of a
// second, e.g. "..._s20241661200216_e...".
func ParseScanTime(key string) (time.Time, error) {
	idx := strings.Index(key, "_s")
	if idx < 0 || idx+16 > len(key) {
		return time.Time{}, Error.New("no scan timestamp in key %q", key)
	}
	stamp := key[idx+2 : idx+16]
	for _, r := range stamp {
		if r < '0' || r > '9' {
			return time.Time{}, Error.New("malformed scan timestamp in key %q", key)
		}
	}
	year, _ := strconv.Atoi(stamp[0:4])
	doy, _ := strconv.Atoi(stamp[4:7])
	hour, _ := strconv.Atoi(stamp[7:9])
	minute, _ := strconv.Atoi(stamp[9:11])
	sec, _ := strconv.Atoi(stamp[11:13])
	tenths, _ := strconv.Atoi(stamp[13:14])
	if doy < 1 || doy > 366 {
		return time.Time{}, Error.New("day of year %d out of range in key %q", doy, key)
	}
	t := time.Date(year, 1, 1, hour, minute, sec, tenths*int(100*time.Millisecond), time.UTC)
	return t.AddDate(0, 0, doy-1), nil
}

// MatchKey reports whether an object key carries the requested band and, for
// mesoscale sectors, the matching mesoscale window. ABI keys carry a band
// marker M{mode}C{band} (mode 3, 4 or 6) and mesoscale keys carry the window
// in the product code (CMIPM1 vs CMIPM2).
func MatchKey(key string, sector Sector, band Band) bool {
	if !containsBandMarker(key, string(band)) {
		return false
	}
	switch sector {
	case Mesoscale1:
		return strings.Contains(key, "CMIPM1")
	case Mesoscale2:
		return strings.Contains(key, "CMIPM2")
	default:
		return true
	}
}

func containsBandMarker(key, band string) bool {
	// Band markers look like M6C02; the mode digit varies.
	for _, mode := range []string{"M3", "M4", "M6"} {
		if strings.Contains(key, mode+band) {
			return true
		}
	}
	return false
}
