// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package converter

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Grid files carry their creation and update dates as 8 characters
// with no declared layout. Agencies disagree on field order, so the
// layout is keyed off the source file name, with the known exceptions
// hardcoded.

// dayMonthYearDashed lists source files whose dashed dates read
// day-month-year. rdtrans2018.gsb has 22-11-18 and ntf_r93.gsb has
// 31/10/07; the NRCan files use year-month-day (95-06-30).
var dayMonthYearDashed = []string{
	"rdtrans",
	"ntf_r93",
	"BWTA2017",
	"BETA2007",
	"D73_ETRS89_geo",
	"DLx_ETRS89_geo",
}

// dayMonthYearPacked lists source files whose 8-digit dates read
// day-month-year, like nzgd2kgrid0005's 20111999.
var dayMonthYearPacked = map[string]bool{
	"nzgd2kgrid0005.gsb":        true,
	"A66_National_13_09_01.gsb": true,
	"National_84_02_07_01.gsb":  true,
	"AT_GIS_GRID.gsb":           true,
}

// weekendGrids lists source files legitimately dated on a weekend:
// Belgian agencies publish on Sundays and New Zealand on Saturdays.
var weekendGrids = map[string]bool{
	"nzgd2kgrid0005.gsb":      true,
	"bd72lb72_etrs89lb08.gsb": true,
}

// parseGridDate interprets an 8-character grid header date according to
// the conventions of the file it came from.
func parseGridDate(raw, baseName string) (year, month, day int, err error) {
	if len(raw) != 8 {
		return 0, 0, 0, errors.Errorf("grid date %q is not 8 characters", raw)
	}

	atoi := func(s string) int {
		v, convErr := strconv.Atoi(s)
		if convErr != nil && err == nil {
			err = errors.Errorf("grid date %q has non-numeric fields", raw)
		}
		return v
	}

	dashed := (raw[2] == '-' && raw[5] == '-') || (raw[2] == '/' && raw[5] == '/')
	if dashed {
		dmy := false
		for _, prefix := range dayMonthYearDashed {
			if strings.HasPrefix(baseName, prefix) {
				dmy = true
				break
			}
		}
		if dmy {
			day = atoi(raw[0:2])
			month = atoi(raw[3:5])
			year = atoi(raw[6:8])
		} else {
			year = atoi(raw[0:2])
			month = atoi(raw[3:5])
			day = atoi(raw[6:8])
		}
		if err != nil {
			return 0, 0, 0, err
		}
		switch {
		case year >= 90:
			year += 1900
		case year <= 50:
			year += 2000
		default:
			return 0, 0, 0, errors.Errorf("grid date %q: two-digit year %d out of range", raw, year)
		}
	} else {
		switch {
		case dayMonthYearPacked[baseName] || strings.HasPrefix(baseName, "GDA94_GDA2020"):
			day = atoi(raw[0:2])
			month = atoi(raw[2:4])
			year = atoi(raw[4:8])
		case baseName == "bd72lb72_etrs89lb08.gsb":
			// 20142308, hence year-day-month.
			year = atoi(raw[0:4])
			day = atoi(raw[4:6])
			month = atoi(raw[6:8])
		default:
			year = atoi(raw[0:4])
			month = atoi(raw[4:6])
			day = atoi(raw[6:8])
		}
		if err != nil {
			return 0, 0, 0, err
		}
	}

	if err := validateGridDate(year, month, day, baseName); err != nil {
		return 0, 0, 0, err
	}
	return year, month, day, nil
}

// validateGridDate sanity-checks a parsed date: plausible range, and
// agencies only publish on weekdays, with the known exceptions.
func validateGridDate(year, month, day int, baseName string) error {
	if day < 1 || day > 31 || month < 1 || month > 12 {
		return errors.Errorf("implausible grid date %04d-%02d-%02d", year, month, day)
	}
	if year < 1980 || year > time.Now().Year() {
		return errors.Errorf("implausible grid date year %d", year)
	}
	if !weekendGrids[baseName] {
		wd := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			return errors.Errorf("grid date %04d-%02d-%02d falls on a weekend", year, month, day)
		}
	}
	return nil
}
