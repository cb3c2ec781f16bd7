// Package pricing turns a plan selection into amounts in USD, RUB and Telegram Stars.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrUnknownPlan = errors.New("unknown plan selection")

// maxOverride bounds any override value so amounts stay within int64.
const maxOverride = 1_000_000

type Selection struct {
	Plan     string
	Server   string
	Protocol string
	Months   int
	Devices  int
}

type Amount struct {
	USDCents int64
	RUB      int64
	Stars    int64
}

func (a Amount) USD() float64 {
	return float64(a.USDCents) / 100
}

// Overrides is a snapshot of the config_values table.
type Overrides map[string]string

// PriceFor resolves the price of a selection. It reads nothing but its arguments.
func PriceFor(sel Selection, ov Overrides) (Amount, error) {
	if !IsMonths(sel.Months) {
		return Amount{}, fmt.Errorf("%w: months=%d", ErrUnknownPlan, sel.Months)
	}

	usdRUB := ov.rate("pricing.rate.usd_rub", defaultUSDRUB)
	usdStars := ov.rate("pricing.rate.usd_stars", defaultUSDStars)

	switch {
	case sel.Plan == PlanCustom:
		if sel.Devices < 1 || sel.Devices > MaxDevices {
			return Amount{}, fmt.Errorf("%w: devices=%d", ErrUnknownPlan, sel.Devices)
		}
		base := ov.cents("pricing.custom.base_usd_per_month", defaultCustomBaseCents)
		extra := ov.cents("pricing.custom.extra_device_usd_per_month", defaultCustomExtraDeviceCents)
		months := int64(sel.Months)
		usd := base*months + extra*int64(sel.Devices-1)*months
		return Amount{
			USDCents: usd,
			RUB:      convert(usd, usdRUB, math.Round),
			Stars:    convert(usd, usdStars, math.Ceil),
		}, nil

	case IsTier(sel.Plan):
		k := PlanKey(sel.Plan, sel.Months)
		usd := ov.cents(k+".usd", baseTable[sel.Plan][sel.Months])
		return Amount{
			USDCents: usd,
			RUB:      ov.units(k+".rub", convert(usd, usdRUB, math.Round)),
			Stars:    ov.units(k+".stars", convert(usd, usdStars, math.Ceil)),
		}, nil
	}
	return Amount{}, fmt.Errorf("%w: plan=%q", ErrUnknownPlan, sel.Plan)
}

// PlanKey is the override prefix of a ready plan, e.g. pricing.plan.standard-3.
func PlanKey(tier string, months int) string {
	return "pricing.plan." + tier + "-" + strconv.Itoa(months)
}

func convert(cents int64, rate float64, round func(float64) float64) int64 {
	return int64(round(float64(cents) * rate / 100))
}

func (o Overrides) lookup(key string) (float64, bool) {
	raw, ok := o[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || v < 0 || v > maxOverride || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func (o Overrides) rate(key string, def float64) float64 {
	if v, ok := o.lookup(key); ok && v > 0 {
		return v
	}
	return def
}

func (o Overrides) cents(key string, def int64) int64 {
	if v, ok := o.lookup(key); ok {
		return int64(math.Round(v * 100))
	}
	return def
}

func (o Overrides) units(key string, def int64) int64 {
	if v, ok := o.lookup(key); ok {
		return int64(math.Round(v))
	}
	return def
}
