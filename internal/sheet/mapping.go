package sheet

import "strings"

// financialMapping translates concern keywords and plan ids into the
// labels the sales team reads.
var financialMapping = map[string]string{
	"income_protection": "Family Income",
	"medical_expenses":  "Medical Expenses",
	"education":         "Education",
	"wealth_building":   "Wealth Building",
	"retirement":        "Retirement",

	"sgsa":               "Satu Gaji Satu Harapan",
	"satu_gaji":          "Satu Gaji Satu Harapan",
	"tabung_warisan":     "Tabung Warisan",
	"mdak":               "Tabung Warisan",
	"tabung_perubatan":   "Tabung Perubatan",
	"tabung_pendidikan":  "Tabung Pendidikan",
	"perlindungan_combo": "Perlindungan Combo",
}

var lifeStageMapping = map[string]string{
	"starting_family": "Starting Family",
	"raising_children": "Raising Children",
	"home":            "Home",
	"pre_retirement":  "Pre Retirement",
	"single":          "Single",
	"retired":         "Retired",
}

var coverageMapping = map[string]string{
	"1": "Basic",
	"2": "Medium",
	"3": "Comprehensive",
}

var packageMapping = map[string]string{
	"1": "Silver",
	"2": "Gold",
	"3": "Platinum",
}

// normalizeKeyword lowercases and underscores text so matching ignores
// case, spaces, and hyphens.
func normalizeKeyword(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// MapKeyword translates a stored value into its readable label, or
// returns the trimmed original when no mapping applies.
func MapKeyword(value string) string {
	normalized := normalizeKeyword(value)
	if label, ok := lifeStageMapping[normalized]; ok {
		return label
	}
	if label, ok := financialMapping[normalized]; ok {
		return label
	}
	return strings.TrimSpace(value)
}

// MapFieldValue translates one collected field for storage. Bare digits
// are ambiguous (an age and a coverage level look the same), so the
// numeric mappings apply only on their own fields.
func MapFieldValue(name, value string) string {
	normalized := normalizeKeyword(value)
	switch name {
	case "coverage_level":
		if label, ok := coverageMapping[normalized]; ok {
			return label
		}
	case "package_tier":
		if label, ok := packageMapping[normalized]; ok {
			return label
		}
	}
	return MapKeyword(value)
}
