// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

// Package goes holds the GOES-R series domain vocabulary: satellites,
// scan sectors, ABI bands and the public bucket layout they are served from.
package goes

import (
	"fmt"
	"time"

	"github.com/zeebo/errs"
)

// Error is the goes domain error class.
var Error = errs.Class("goes")

// Satellite identifies a GOES-R series spacecraft.
type Satellite string

// Supported satellites.
const (
	GOES16 Satellite = "GOES-16"
	GOES18 Satellite = "GOES-18"
	GOES19 Satellite = "GOES-19"
)

// Satellites lists every supported satellite.
var Satellites = []Satellite{GOES16, GOES18, GOES19}

// Bucket returns the public NOAA bucket serving this satellite.
func (s Satellite) Bucket() string {
	switch s {
	case GOES16:
		return "noaa-goes16"
	case GOES18:
		return "noaa-goes18"
	case GOES19:
		return "noaa-goes19"
	}
	return ""
}

// Valid reports whether the satellite is one we can fetch from.
func (s Satellite) Valid() bool { return s.Bucket() != "" }

// ParseSatellite validates a satellite name.
func ParseSatellite(name string) (Satellite, error) {
	s := Satellite(name)
	if !s.Valid() {
		return "", Error.New("unknown satellite %q (expected one of GOES-16, GOES-18, GOES-19)", name)
	}
	return s, nil
}

// Sector identifies an ABI scan sector.
type Sector string

// Supported sectors.
const (
	FullDisk   Sector = "FullDisk"
	CONUS      Sector = "CONUS"
	Mesoscale1 Sector = "Mesoscale1"
	Mesoscale2 Sector = "Mesoscale2"
)

// Sectors lists every supported sector.
var Sectors = []Sector{FullDisk, CONUS, Mesoscale1, Mesoscale2}

// Product returns the ABI L2 cloud and moisture imagery product code for the
// sector. Both mesoscale windows share one product; keys are told apart by
// the CMIPM1/CMIPM2 substring.
func (s Sector) Product() string {
	switch s {
	case FullDisk:
		return "ABI-L2-CMIPF"
	case CONUS:
		return "ABI-L2-CMIPC"
	case Mesoscale1, Mesoscale2:
		return "ABI-L2-CMIPM"
	}
	return ""
}

// CadenceMinutes returns the nominal scan cadence.
func (s Sector) CadenceMinutes() int {
	switch s {
	case FullDisk:
		return 10
	case CONUS:
		return 5
	case Mesoscale1, Mesoscale2:
		return 1
	}
	return 0
}

// Valid reports whether the sector is known.
func (s Sector) Valid() bool { return s.Product() != "" }

// ParseSector validates a sector name.
func ParseSector(name string) (Sector, error) {
	s := Sector(name)
	if !s.Valid() {
		return "", Error.New("unknown sector %q (expected one of FullDisk, CONUS, Mesoscale1, Mesoscale2)", name)
	}
	return s, nil
}

// Band identifies an ABI spectral channel, C01 through C16.
type Band string

// BandInfo describes a band for the static products catalog.
type BandInfo struct {
	Band       Band    `json:"band"`
	Wavelength float64 `json:"wavelength_um"`
	Name       string  `json:"name"`
}

// Bands is the closed set of ABI channels in instrument order.
var Bands = []BandInfo{
	{"C01", 0.47, "Blue"},
	{"C02", 0.64, "Red"},
	{"C03", 0.86, "Veggie"},
	{"C04", 1.37, "Cirrus"},
	{"C05", 1.6, "Snow/Ice"},
	{"C06", 2.2, "Cloud Particle Size"},
	{"C07", 3.9, "Shortwave Window"},
	{"C08", 6.2, "Upper-Level Water Vapor"},
	{"C09", 6.9, "Mid-Level Water Vapor"},
	{"C10", 7.3, "Lower-Level Water Vapor"},
	{"C11", 8.4, "Cloud-Top Phase"},
	{"C12", 9.6, "Ozone"},
	{"C13", 10.3, "Clean Longwave Window"},
	{"C14", 11.2, "Longwave Window"},
	{"C15", 12.3, "Dirty Longwave Window"},
	{"C16", 13.3, "CO2 Longwave"},
}

// Valid reports whether the band is one of C01..C16.
func (b Band) Valid() bool {
	for _, info := range Bands {
		if info.Band == b {
			return true
		}
	}
	return false
}

// ParseBand validates a band code. GEOCOLOR is called out separately because
// it is a common request: it is a composite served from the NOAA CDN, not an
// ABI channel present in the buckets.
func ParseBand(name string) (Band, error) {
	if name == "GEOCOLOR" {
		return "", Error.New("GEOCOLOR is a CDN composite, not an ABI band; fetch bands C01..C16 and build composites locally, or use the NOAA CDN directly")
	}
	b := Band(name)
	if !b.Valid() {
		return "", Error.New("unknown band %q (expected C01..C16)", name)
	}
	return b, nil
}

// Availability describes the data window for a satellite, used to explain
// empty listings for historical queries.
type Availability struct {
	From   time.Time
	To     time.Time // zero when the satellite is still producing
	Status string
}

var availability = map[Satellite]Availability{
	GOES16: {
		From:   time.Date(2017, 7, 10, 0, 0, 0, 0, time.UTC),
		To:     time.Date(2025, 4, 7, 0, 0, 0, 0, time.UTC),
		Status: "in on-orbit storage since April 2025",
	},
	GOES18: {
		From:   time.Date(2022, 7, 28, 0, 0, 0, 0, time.UTC),
		Status: "operational (GOES-West)",
	},
	GOES19: {
		From:   time.Date(2025, 4, 4, 0, 0, 0, 0, time.UTC),
		Status: "operational (GOES-East)",
	},
}

// AvailabilityOf returns the availability record for a satellite.
func AvailabilityOf(s Satellite) (Availability, bool) {
	a, ok := availability[s]
	return a, ok
}

// AvailabilityHint renders a human hint for why a window returned no data.
func AvailabilityHint(s Satellite, start, end time.Time) string {
	a, ok := availability[s]
	if !ok {
		return ""
	}
	switch {
	case end.Before(a.From):
		return fmt.Sprintf("%s data begins %s (%s)", s, a.From.Format("2006-01-02"), a.Status)
	case !a.To.IsZero() && start.After(a.To):
		return fmt.Sprintf("%s stopped producing on %s (%s)", s, a.To.Format("2006-01-02"), a.Status)
	default:
		return fmt.Sprintf("%s is %s; data may be delayed for recent windows", s, a.Status)
	}
}
