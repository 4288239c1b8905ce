package financial

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Terms is the member cost-sharing configured for a benefit category.
type Terms struct {
	Copay           float64 `mapstructure:"copay" json:"copay"`
	CoinsuranceRate float64 `mapstructure:"coinsurance_rate" json:"coinsurance_rate"`
}

// CategoryTerms maps a benefit category to its cost-sharing terms. Lookups
// for categories that are not configured fall back to Default.
type CategoryTerms struct {
	Default    Terms
	Categories map[string]Terms
}

// DefaultCategoryTerms returns the standard plan table.
func DefaultCategoryTerms() CategoryTerms {
	return CategoryTerms{
		Default: Terms{Copay: 0, CoinsuranceRate: 20},
		Categories: map[string]Terms{
			"medical":      {Copay: 20, CoinsuranceRate: 20},
			"specialist":   {Copay: 40, CoinsuranceRate: 20},
			"hospital":     {Copay: 100, CoinsuranceRate: 10},
			"prescription": {Copay: 10, CoinsuranceRate: 0},
			"emergency":    {Copay: 150, CoinsuranceRate: 20},
		},
	}
}

// For returns the terms of a category. Matching is case-insensitive.
func (ct CategoryTerms) For(category string) Terms {
	if t, ok := ct.Categories[strings.ToLower(strings.TrimSpace(category))]; ok {
		return t
	}
	return ct.Default
}

func (ct CategoryTerms) validate() error {
	check := func(name string, t Terms) error {
		if !validMoney(t.Copay) {
			return invalid(name+".copay", "must be a non-negative amount")
		}
		if !validMoney(t.CoinsuranceRate) || t.CoinsuranceRate > 100 {
			return invalid(name+".coinsurance_rate", "must be between 0 and 100")
		}
		return nil
	}
	if err := check("default", ct.Default); err != nil {
		return err
	}
	for name, t := range ct.Categories {
		if err := check(name, t); err != nil {
			return err
		}
	}
	return nil
}

// LoadCategoryTerms reads a plan-terms file (YAML, JSON or TOML) and merges
// it over the defaults. An empty path returns the defaults.
//
//	default:
//	  copay: 0
//	  coinsurance_rate: 20
//	categories:
//	  hospital:
//	    copay: 100
//	    coinsurance_rate: 10
func LoadCategoryTerms(path string) (CategoryTerms, error) {
	terms := DefaultCategoryTerms()
	if path == "" {
		return terms, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return CategoryTerms{}, fmt.Errorf("read plan terms %s: %w", path, err)
	}

	var file struct {
		Default    *Terms           `mapstructure:"default"`
		Categories map[string]Terms `mapstructure:"categories"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return CategoryTerms{}, fmt.Errorf("unmarshal plan terms: %w", err)
	}

	if file.Default != nil {
		terms.Default = *file.Default
	}
	for name, t := range file.Categories {
		terms.Categories[strings.ToLower(name)] = t
	}
	if err := terms.validate(); err != nil {
		return CategoryTerms{}, err
	}
	return terms, nil
}
