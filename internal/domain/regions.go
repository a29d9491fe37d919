package domain

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// RiskLevel buckets a risk score for display.
type RiskLevel string

const (
	RiskHigh    RiskLevel = "high"
	RiskMedium  RiskLevel = "medium"
	RiskLow     RiskLevel = "low"
	RiskVeryLow RiskLevel = "very-low"
)

// RiskLevels lists levels from lowest to highest.
var RiskLevels = []RiskLevel{RiskVeryLow, RiskLow, RiskMedium, RiskHigh}

// RiskLevelFor maps a score in [0,1] to its level.
func RiskLevelFor(score float64) RiskLevel {
	switch {
	case score >= 0.7:
		return RiskHigh
	case score >= 0.5:
		return RiskMedium
	case score >= 0.3:
		return RiskLow
	default:
		return RiskVeryLow
	}
}

// Department is one entry of the risk map.
type Department struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	RiskScore float64   `json:"riskScore"`
	RiskLevel RiskLevel `json:"riskLevel"`
}

func department(code, name string, lat, lng, score float64) Department {
	return Department{Code: code, Name: name, Lat: lat, Lng: lng, RiskScore: score, RiskLevel: RiskLevelFor(score)}
}

// RiskSnapshot is an immutable view of the risk map.
type RiskSnapshot struct {
	ID            string       `json:"id"`
	Departments   []Department `json:"departments"`
	HeatmapPoints [][3]float64 `json:"heatmapPoints"`
	LastUpdated   time.Time    `json:"lastUpdated"`
	Source        string       `json:"source"`
	Degraded      bool         `json:"degraded"`
}

// Department looks up a department by code.
func (s RiskSnapshot) Department(code string) (Department, bool) {
	for _, d := range s.Departments {
		if d.Code == code {
			return d, true
		}
	}
	return Department{}, false
}

// HeatmapPoints returns [lat, lng, score*100] per department.
func HeatmapPoints(depts []Department) [][3]float64 {
	out := make([][3]float64, len(depts))
	for i, d := range depts {
		out[i] = [3]float64{d.Lat, d.Lng, d.RiskScore * 100}
	}
	return out
}

// departmentRegions maps every metropolitan department to its INSEE 2016
// region, in display order.
var departmentRegions = []struct{ dept, region string }{
	// Auvergne-Rhône-Alpes
	{"01", "84"},
	{"03", "84"},
	{"07", "84"},
	{"15", "84"},
	{"26", "84"},
	{"38", "84"},
	{"42", "84"},
	{"43", "84"},
	{"63", "84"},
	{"69", "84"},
	{"73", "84"},
	{"74", "84"},
	// Bourgogne-Franche-Comté
	{"21", "27"},
	{"25", "27"},
	{"39", "27"},
	{"58", "27"},
	{"70", "27"},
	{"71", "27"},
	{"89", "27"},
	{"90", "27"},
	// Bretagne
	{"22", "53"},
	{"29", "53"},
	{"35", "53"},
	{"56", "53"},
	// Centre-Val de Loire
	{"18", "24"},
	{"28", "24"},
	{"36", "24"},
	{"37", "24"},
	{"41", "24"},
	{"45", "24"},
	// Corse
	{"2A", "94"},
	{"2B", "94"},
	// Grand Est
	{"08", "44"},
	{"10", "44"},
	{"51", "44"},
	{"52", "44"},
	{"54", "44"},
	{"55", "44"},
	{"57", "44"},
	{"67", "44"},
	{"68", "44"},
	{"88", "44"},
	// Hauts-de-France
	{"02", "32"},
	{"59", "32"},
	{"60", "32"},
	{"62", "32"},
	{"80", "32"},
	// Île-de-France
	{"75", "11"},
	{"77", "11"},
	{"78", "11"},
	{"91", "11"},
	{"92", "11"},
	{"93", "11"},
	{"94", "11"},
	{"95", "11"},
	// Normandie
	{"14", "28"},
	{"27", "28"},
	{"50", "28"},
	{"61", "28"},
	{"76", "28"},
	// Nouvelle-Aquitaine
	{"16", "75"},
	{"17", "75"},
	{"19", "75"},
	{"23", "75"},
	{"24", "75"},
	{"33", "75"},
	{"40", "75"},
	{"47", "75"},
	{"64", "75"},
	{"79", "75"},
	{"86", "75"},
	{"87", "75"},
	// Occitanie
	{"09", "76"},
	{"11", "76"},
	{"12", "76"},
	{"30", "76"},
	{"31", "76"},
	{"32", "76"},
	{"34", "76"},
	{"46", "76"},
	{"48", "76"},
	{"65", "76"},
	{"66", "76"},
	{"81", "76"},
	{"82", "76"},
	// Pays de la Loire
	{"44", "52"},
	{"49", "52"},
	{"53", "52"},
	{"72", "52"},
	{"85", "52"},
	// Provence-Alpes-Côte d'Azur
	{"04", "93"},
	{"05", "93"},
	{"06", "93"},
	{"13", "93"},
	{"83", "93"},
	{"84", "93"},
}

var regionNames = map[string]string{
	"84": "Auvergne-Rhône-Alpes",
	"27": "Bourgogne-Franche-Comté",
	"53": "Bretagne",
	"24": "Centre-Val de Loire",
	"94": "Corse",
	"44": "Grand Est",
	"32": "Hauts-de-France",
	"11": "Île-de-France",
	"28": "Normandie",
	"75": "Nouvelle-Aquitaine",
	"76": "Occitanie",
	"52": "Pays de la Loire",
	"93": "Provence-Alpes-Côte d'Azur",
}

var regionByDepartment = func() map[string]string {
	m := make(map[string]string, len(departmentRegions))
	for _, e := range departmentRegions {
		m[e.dept] = e.region
	}
	return m
}()

// MetropolitanDepartments returns the department codes in display order.
func MetropolitanDepartments() []string {
	out := make([]string, len(departmentRegions))
	for i, e := range departmentRegions {
		out[i] = e.dept
	}
	return out
}

// RegionForDepartment returns the region of a metropolitan department. Codes
// shorter than two characters are zero-padded.
func RegionForDepartment(code string) (string, bool) {
	r, ok := regionByDepartment[PadDepartmentCode(code)]
	return r, ok
}

// RegionName returns the display name of a region code.
func RegionName(code string) string {
	return regionNames[code]
}

// PadDepartmentCode left-pads a department code to two characters.
func PadDepartmentCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) == 1 {
		return "0" + code
	}
	return code
}

// DepartmentScore returns the intensity of the department's region, or 0
// when the department or its region is unknown.
func DepartmentScore(code string, intensity RegionalIntensity) float64 {
	region, ok := RegionForDepartment(code)
	if !ok {
		return 0
	}
	return intensity[region]
}

// OverseasDepartments are absent from the boundary dataset and from the
// regional surveillance; their coordinates and scores are fixed.
func OverseasDepartments() []Department {
	return []Department{
		department("971", "Guadeloupe", 16.265, -61.551, 0.4),
		department("972", "Martinique", 14.641, -61.024, 0.5),
		department("973", "Guyane", 3.934, -53.125, 0.6),
		department("974", "La Réunion", -21.115, 55.536, 0.3),
		department("975", "Saint-Pierre-et-Miquelon", 46.885, -56.315, 0.2),
		department("976", "Mayotte", -12.827, 45.166, 0.7),
		department("977", "Saint-Barthélemy", 17.9, -62.833, 0.3),
		department("978", "Saint-Martin", 18.07, -63.05, 0.4),
		department("984", "Terres australes et antarctiques françaises", -49.35, 70.217, 0.1),
		department("986", "Wallis-et-Futuna", -13.768, -177.156, 0.3),
		department("987", "Polynésie française", -17.679, -149.407, 0.4),
		department("988", "Nouvelle-Calédonie", -20.904, 165.618, 0.5),
	}
}

// StaticFallbackDepartments is served when no regional intensity or
// geometry is available at all.
func StaticFallbackDepartments() []Department {
	return []Department{
		department("01", "Ain", 46.064, 5.449, 0.3),
		department("75", "Paris", 48.856, 2.352, 0.8),
		department("69", "Rhône", 45.764, 4.835, 0.6),
		department("13", "Bouches-du-Rhône", 43.296, 5.369, 0.7),
		department("31", "Haute-Garonne", 43.604, 1.444, 0.4),
		department("59", "Nord", 50.629, 3.057, 0.5),
		department("67", "Bas-Rhin", 48.573, 7.752, 0.2),
		department("06", "Alpes-Maritimes", 43.71, 7.262, 0.9),
		department("971", "Guadeloupe", 16.265, -61.551, 0.4),
		department("972", "Martinique", 14.641, -61.024, 0.5),
		department("973", "Guyane", 3.934, -53.125, 0.6),
		department("974", "La Réunion", -21.115, 55.536, 0.3),
		department("976", "Mayotte", -12.827, 45.166, 0.7),
		department("987", "Polynésie française", -17.679, -149.407, 0.4),
		department("988", "Nouvelle-Calédonie", -20.904, 165.618, 0.5),
	}
}

// Stats summarizes a risk map.
type Stats struct {
	TotalDepartments      int               `json:"totalDepartments"`
	AverageRiskScore      float64           `json:"averageRiskScore"`
	RiskLevelDistribution map[RiskLevel]int `json:"riskLevelDistribution"`
	HighRiskDepartments   []string          `json:"highRiskDepartments"`
	LowRiskDepartments    []string          `json:"lowRiskDepartments"`
}

// ComputeStats aggregates departments. Low risk covers low and very-low.
func ComputeStats(depts []Department) Stats {
	st := Stats{
		TotalDepartments:      len(depts),
		RiskLevelDistribution: make(map[RiskLevel]int, len(RiskLevels)),
		HighRiskDepartments:   []string{},
		LowRiskDepartments:    []string{},
	}
	for _, l := range RiskLevels {
		st.RiskLevelDistribution[l] = 0
	}
	var sum float64
	for _, d := range depts {
		sum += d.RiskScore
		st.RiskLevelDistribution[d.RiskLevel]++
		switch d.RiskLevel {
		case RiskHigh:
			st.HighRiskDepartments = append(st.HighRiskDepartments, d.Name)
		case RiskLow, RiskVeryLow:
			st.LowRiskDepartments = append(st.LowRiskDepartments, d.Name)
		}
	}
	if len(depts) > 0 {
		st.AverageRiskScore = sum / float64(len(depts))
	}
	return st
}

// SortByRisk orders departments by descending score, then code.
func SortByRisk(depts []Department) []Department {
	out := slices.Clone(depts)
	slices.SortStableFunc(out, func(a, b Department) int {
		if c := cmp.Compare(b.RiskScore, a.RiskScore); c != 0 {
			return c
		}
		return strings.Compare(a.Code, b.Code)
	})
	return out
}
