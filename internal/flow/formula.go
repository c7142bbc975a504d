package flow

import (
	"fmt"
	"math"
	"strconv"
)

// perubatanAnnual is the basic-coverage annual premium table for ages
// 34-64. Younger ages use flat monthly bands below.
var perubatanAnnual = map[int]float64{
	34: 1833.30, 35: 1854.40, 36: 1896.90, 37: 1931.00, 38: 1952.10,
	39: 1969.20, 40: 2015.10, 41: 2156.00, 42: 2231.00, 43: 2294.00,
	44: 2383.60, 45: 2405.60, 46: 2580.00, 47: 2656.00, 48: 2800.00,
	49: 2862.00, 50: 3002.30, 51: 3328.60, 52: 3605.70, 53: 3774.00,
	54: 3951.20, 55: 3951.20, 56: 3951.20, 57: 3951.20, 58: 4711.60,
	59: 5136.20, 60: 5136.20, 61: 5136.20, 62: 5136.20, 63: 7976.00,
	64: 9232.60,
}

// comboBands maps package tier to annual premium by age band.
var comboBands = map[int][4]float64{
	1: {2400, 2800, 3600, 4000}, // Silver
	2: {3500, 3600, 4200, 5000}, // Gold
	3: {4000, 5400, 6300, 8400}, // Platinum
}

type formulaFunc func(profile map[string]string) (map[string]string, error)

var formulas = map[string]formulaFunc{
	"warisan_premium":    warisanPremium,
	"perubatan_premium":  perubatanPremium,
	"combo_premium":      comboPremium,
	"satu_gaji_premium":  satuGajiPremium,
	"pendidikan_premium": pendidikanPremium,
}

func evalFormula(name string, profile map[string]string) (map[string]string, error) {
	fn, ok := formulas[name]
	if !ok {
		return nil, fmt.Errorf("unknown formula %q", name)
	}
	return fn(profile)
}

// warisanPremium estimates the Tabung Warisan legacy premium from the
// desired legacy amount and the user's age band.
func warisanPremium(profile map[string]string) (map[string]string, error) {
	age, err := profileInt(profile, "age")
	if err != nil {
		return nil, err
	}
	legacy, err := profileFloat(profile, "legacy_amount")
	if err != nil {
		return nil, err
	}

	var factor float64
	switch {
	case age <= 35:
		factor = 4.8
	case age <= 45:
		factor = 9
	default:
		factor = 17
	}
	annual := (legacy / 1000) * factor
	updates := premiumUpdates(annual, annual/12)
	updates["legacy_display"] = FormatRM(legacy)
	return updates, nil
}

// perubatanPremium estimates the Tabung Perubatan monthly premium from
// age and coverage level (1 = basic, 3 = comprehensive).
func perubatanPremium(profile map[string]string) (map[string]string, error) {
	age, err := profileInt(profile, "age")
	if err != nil {
		return nil, err
	}
	level, err := profileInt(profile, "coverage_level")
	if err != nil {
		return nil, err
	}

	var base float64
	switch {
	case age <= 21:
		base = 113
	case age <= 25:
		base = 123
	case age <= 30:
		base = 133
	case age <= 33:
		base = 143
	default:
		annual, ok := perubatanAnnual[age]
		if !ok {
			annual = perubatanAnnual[54]
		}
		base = annual / 12
	}

	var monthly float64
	switch level {
	case 1:
		monthly = base - 20
	case 3:
		monthly = base
	default:
		return nil, fmt.Errorf("invalid coverage level %d", level)
	}
	return premiumUpdates(monthly*12, monthly), nil
}

// comboPremium looks up the Perlindungan Combo annual premium for a
// package tier (1-3) and age band.
func comboPremium(profile map[string]string) (map[string]string, error) {
	age, err := profileInt(profile, "age")
	if err != nil {
		return nil, err
	}
	tier, err := profileInt(profile, "package_tier")
	if err != nil {
		return nil, err
	}

	bands, ok := comboBands[tier]
	if !ok {
		return nil, fmt.Errorf("invalid package tier %d", tier)
	}
	var band int
	switch {
	case age <= 25:
		band = 0
	case age <= 35:
		band = 1
	case age <= 44:
		band = 2
	case age <= 54:
		band = 3
	default:
		return nil, fmt.Errorf("age %d outside combo bands", age)
	}
	annual := bands[band]
	return premiumUpdates(annual, annual/12), nil
}

// satuGajiPremium estimates the Satu Gaji income-replacement premium:
// coverage is 24 months of income, priced per thousand by age band.
func satuGajiPremium(profile map[string]string) (map[string]string, error) {
	age, err := profileInt(profile, "age")
	if err != nil {
		return nil, err
	}
	income, err := profileFloat(profile, "monthly_income")
	if err != nil {
		return nil, err
	}

	coverage := income * 24
	var factor float64
	switch {
	case age <= 35:
		factor = 5.2
	case age <= 45:
		factor = 9.6
	default:
		factor = 16
	}
	annual := (coverage / 1000) * factor

	updates := premiumUpdates(annual, annual/12)
	updates["coverage_amount"] = FormatRM(coverage)
	updates["income_display"] = FormatRM(income)
	return updates, nil
}

// pendidikanPremium estimates the Tabung Pendidikan education-fund
// premium, priced per thousand by the child's age band.
func pendidikanPremium(profile map[string]string) (map[string]string, error) {
	childAge, err := profileInt(profile, "child_age")
	if err != nil {
		return nil, err
	}
	fund, err := profileFloat(profile, "fund_target")
	if err != nil {
		return nil, err
	}

	var factor float64
	switch {
	case childAge <= 6:
		factor = 3.6
	case childAge <= 12:
		factor = 5.4
	default:
		factor = 8.2
	}
	annual := (fund / 1000) * factor
	updates := premiumUpdates(annual, annual/12)
	updates["fund_display"] = FormatRM(fund)
	return updates, nil
}

func premiumUpdates(annual, monthly float64) map[string]string {
	return map[string]string{
		"premium_annual":  FormatRM(annual),
		"premium_monthly": FormatRM(monthly),
	}
}

func profileInt(profile map[string]string, key string) (int, error) {
	raw, ok := profile[key]
	if !ok {
		return 0, fmt.Errorf("missing profile field %q", key)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("profile field %q: %w", key, err)
	}
	return n, nil
}

func profileFloat(profile map[string]string, key string) (float64, error) {
	raw, ok := profile[key]
	if !ok {
		return 0, fmt.Errorf("missing profile field %q", key)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("profile field %q: %w", key, err)
	}
	return f, nil
}

// roundCents rounds to the nearest sen, half away from zero, so premium
// math is identical on every platform.
func roundCents(amount float64) int64 {
	return int64(math.Floor(amount*100 + 0.5))
}

// FormatRM renders an amount as Malaysian Ringgit, e.g. "RM 1,234.56".
func FormatRM(amount float64) string {
	cents := roundCents(amount)
	whole := cents / 100
	frac := cents % 100

	digits := strconv.FormatInt(whole, 10)
	var grouped []byte
	for i, d := range []byte(digits) {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped = append(grouped, ',')
		}
		grouped = append(grouped, d)
	}
	return fmt.Sprintf("RM %s.%02d", grouped, frac)
}
