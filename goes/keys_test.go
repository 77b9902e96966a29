// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package goes_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goeswatch/goeswatch/goes"
)

func TestParseScanTime(t *testing.T) {
	key := "ABI-L2-CMIPC/2024/166/12/OR_ABI-L2-CMIPC-M6C02_G19_s20241661200216_e20241661202589_c20241661203088.nc"
	scan, err := goes.ParseScanTime(key)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 6, 14, 12, 0, 21, int(600*time.Millisecond), time.UTC), scan)

	_, err = goes.ParseScanTime("OR_ABI-L2-CMIPC-M6C02_G19.nc")
	require.Error(t, err)

	_, err = goes.ParseScanTime("OR_ABI_s2024x661200216_e.nc")
	require.Error(t, err)
}

func TestParseScanTimeLeapDayOrdinal(t *testing.T) {
	// Day 60 of a leap year is February 29.
	scan, err := goes.ParseScanTime("OR_ABI-L2-CMIPF-M6C13_G18_s20240601000000_e.nc")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 2, 29, 10, 0, 0, 0, time.UTC), scan)
}

func TestMatchKeyBands(t *testing.T) {
	key := "OR_ABI-L2-CMIPC-M6C02_G19_s20241661200216_e20241661202589_c20241661203088.nc"
	require.True(t, goes.MatchKey(key, goes.CONUS, "C02"))
	require.False(t, goes.MatchKey(key, goes.CONUS, "C13"))

	// Mode 3 keys still match.
	require.True(t, goes.MatchKey("OR_ABI-L2-CMIPC-M3C02_G16_s20180501200216_e.nc", goes.CONUS, "C02"))
}

func TestMatchKeyMesoscaleWindows(t *testing.T) {
	m1 := "OR_ABI-L2-CMIPM1-M6C02_G19_s20241661200216_e.nc"
	m2 := "OR_ABI-L2-CMIPM2-M6C02_G19_s20241661200216_e.nc"
	require.True(t, goes.MatchKey(m1, goes.Mesoscale1, "C02"))
	require.False(t, goes.MatchKey(m1, goes.Mesoscale2, "C02"))
	require.True(t, goes.MatchKey(m2, goes.Mesoscale2, "C02"))
	require.False(t, goes.MatchKey(m2, goes.Mesoscale1, "C02"))
}

func TestHourPrefixes(t *testing.T) {
	start := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	prefixes := goes.HourPrefixes(goes.CONUS, start, end)
	require.Equal(t, []string{"ABI-L2-CMIPC/2024/167/12/"}, prefixes)

	prefixes = goes.HourPrefixes(goes.FullDisk, start, start.Add(2*time.Hour))
	require.Equal(t, []string{
		"ABI-L2-CMIPF/2024/167/12/",
		"ABI-L2-CMIPF/2024/167/13/",
		"ABI-L2-CMIPF/2024/167/14/",
	}, prefixes)
}

func TestParseBand(t *testing.T) {
	_, err := goes.ParseBand("GEOCOLOR")
	require.Error(t, err)
	require.Contains(t, err.Error(), "CDN")

	_, err = goes.ParseBand("C17")
	require.Error(t, err)

	band, err := goes.ParseBand("C13")
	require.NoError(t, err)
	require.Equal(t, goes.Band("C13"), band)
}

func TestAvailabilityHint(t *testing.T) {
	hint := goes.AvailabilityHint(goes.GOES19,
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC))
	require.Contains(t, hint, "GOES-19 data begins 2025-04-04")

	hint = goes.AvailabilityHint(goes.GOES16,
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	require.Contains(t, hint, "stopped producing")
}
