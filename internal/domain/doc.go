// Package domain models French influenza surveillance and vaccination
// coverage data and the derived regional risk signal.
//
// # Data Sources
//
// Weekly incidence comes from the Sentinelles network (Sentiweb REST API,
// https://www.sentiweb.fr/api/v1/datasets/rest). Indicator 3 is
// influenza-like illness; the RDD datasets are published per region using the
// post-2016 INSEE region codes. A payload row looks like:
//
//	{"week": 202410, "indicator": 3, "inc": 5123, "inc100": 103,
//	 "geo_insee": "11", "geo_name": "ILE-DE-FRANCE"}
//
// Vaccination coverage comes from Santé publique France department exports,
// either as long rows (date, region, age, doses, target population) or as the
// wide annual table with one "Grippe ..." column per measure and decimal
// commas ("54,2").
//
// # Conventions
//
// Weeks:
//
//	Canonical form is the ISO-8601 week "YYYY-Www". Accepted inputs are
//	"202541", "2025-W41", "2025W41" and calendar dates, which are mapped with
//	the Thursday rule (time.Time.ISOWeek). Week rank is year*100+week so
//	lexical and numeric ordering agree.
//
// Regions:
//
//	Codes are trimmed, upper-cased and stripped of an "FR-" prefix. A missing
//	code becomes the sentinel "UNK" and the record is dropped.
//
// Age bins:
//
//	0-4, 5-11, 12-17, 18-49, 50-64, 65+ or ALL. Matching tolerates case,
//	spacing, underscores, en-dashes and "to"/"et plus"/"and over" spellings.
//	Unrecognized labels fall back to a configurable bin, 65+ by default.
//
// Numbers:
//
//	Open-data exports mix "12.3", "12,3" and "12,3 %". A value that still
//	fails to parse is unknown, never zero.
//
// # Intensity
//
// Regional intensity is the mean of the last 6 weekly rates divided by
// max(50, p90, min(p95, 400)) over the trailing 260 weeks, clamped to [0,1]
// and rounded to 2 decimals. Departments inherit the score of their region;
// risk levels are high (>=0.7), medium (>=0.5), low (>=0.3) and very-low.
package domain
