// Package config holds the configuration of the socialdb command. Values come, in increasing
// order of precedence, from defaults, a config file, SOCIALDB_ environment variables and
// command line flags.
package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/l7mp/socialdb/pkg/analytics"
	"github.com/l7mp/socialdb/pkg/dberrors"
)

// EnvPrefix is the prefix of the environment variables read by Load.
const EnvPrefix = "SOCIALDB"

const (
	OutputYAML = "yaml"
	OutputJSON = "json"

	// ReportAll runs every report.
	ReportAll = "all"
)

// Config is the configuration of the socialdb command.
type Config struct {
	// Dataset is the path of the dataset file to load.
	Dataset string `mapstructure:"dataset"`
	// Report is the report to run, or "all".
	Report string `mapstructure:"report"`
	// Limit is the number of rows of ranked reports.
	Limit int64 `mapstructure:"limit"`
	// Output is the output format, yaml or json.
	Output string `mapstructure:"output"`
	// Workers is the number of collections loaded in parallel.
	Workers int `mapstructure:"workers"`
}

var defaults = map[string]any{
	"dataset": "",
	"report":  ReportAll,
	"limit":   analytics.DefaultLimit,
	"output":  OutputYAML,
	"workers": 4,
}

// Keys returns the sorted configuration keys. A command line flag of the same name overrides
// the key.
func Keys() []string {
	ret := make([]string, 0, len(defaults))
	for k := range defaults {
		ret = append(ret, k)
	}
	slices.Sort(ret)
	return ret
}

// Load builds the configuration. file is an optional config file (YAML, JSON or TOML) and
// overrides holds the values set on the command line.
func Load(file string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", file, err)
		}
	}

	for k, val := range overrides {
		v.Set(k, val)
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return c, c.Validate()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Dataset == "" {
		return dberrors.NewValidation("no dataset given")
	}
	if c.Report != ReportAll && !slices.Contains(analytics.Reports, c.Report) {
		return dberrors.NewValidation("unknown report %q, expected one of %s or %s", c.Report,
			strings.Join(analytics.Reports, ", "), ReportAll)
	}
	if c.Output != OutputYAML && c.Output != OutputJSON {
		return dberrors.NewValidation("unknown output format %q", c.Output)
	}
	if c.Limit < 0 {
		return dberrors.NewValidation("negative limit %d", c.Limit)
	}
	return nil
}

// Reports returns the names of the reports to run.
func (c *Config) Reports() []string {
	if c.Report == ReportAll {
		return analytics.Reports
	}
	return []string{c.Report}
}
