/*
Copyright 2022 The l7mp/stunner team.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"

	"go.uber.org/zap/zapcore"
	utiljson "k8s.io/apimachinery/pkg/util/json"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/yaml"

	"github.com/l7mp/socialdb/internal/buildinfo"
	"github.com/l7mp/socialdb/pkg/analytics"
	"github.com/l7mp/socialdb/pkg/config"
	"github.com/l7mp/socialdb/pkg/document"
	"github.com/l7mp/socialdb/pkg/loader"
	"github.com/l7mp/socialdb/pkg/store"
)

var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "Config file (YAML, JSON or TOML).")
	flag.String("dataset", "", "Dataset file to load (YAML or JSON).")
	flag.String("report", config.ReportAll, "Report to run: hashtags, engagement, influencers, hourly or all.")
	flag.Int64("limit", analytics.DefaultLimit, "Number of rows of ranked reports.")
	flag.String("output", config.OutputYAML, "Output format: yaml or json.")
	flag.Int("workers", 4, "Number of collections loaded in parallel.")

	opts := zap.Options{
		Development:     true,
		DestWriter:      os.Stderr,
		StacktraceLevel: zapcore.Level(3),
		TimeEncoder:     zapcore.RFC3339NanoTimeEncoder,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	logger := zap.New(zap.UseFlagOptions(&opts)).WithName("socialdb")
	setupLog := logger.WithName("setup")

	buildInfo := buildinfo.New(version, commitHash, buildDate)
	setupLog.Info(fmt.Sprintf("starting socialdb %s", buildInfo.String()))

	// only flags given on the command line override the config file and the environment
	overrides := map[string]any{}
	flag.Visit(func(f *flag.Flag) {
		if getter, ok := f.Value.(flag.Getter); ok && slices.Contains(config.Keys(), f.Name) {
			overrides[f.Name] = getter.Get()
		}
	})

	c, err := config.Load(configFile, overrides)
	if err != nil {
		setupLog.Error(err, "invalid configuration")
		os.Exit(1)
	}

	ds, err := loader.ReadFile(c.Dataset)
	if err != nil {
		setupLog.Error(err, "unable to read dataset")
		os.Exit(1)
	}

	s := store.New(logger)
	counts, err := loader.New(s, logger, loader.WithWorkers(c.Workers),
		loader.WithSchema(analytics.Posts, store.PostSchema),
		loader.WithIncrementOnly(analytics.Posts, store.PostCounters...)).Load(ds)
	if err != nil {
		setupLog.Error(err, "unable to load dataset")
		os.Exit(1)
	}
	setupLog.Info("dataset loaded", "path", c.Dataset, "documents", counts)

	a := analytics.New(s, logger)
	results := []any{}
	for _, name := range c.Reports() {
		rows, err := a.Report(name, c.Limit)
		if err != nil {
			setupLog.Error(err, "report failed", "report", name)
			os.Exit(1)
		}
		out := make([]any, len(rows))
		for i := range rows {
			out[i] = document.ToExtendedJSON(rows[i])
		}
		results = append(results, map[string]any{"report": name, "rows": out})
	}

	if err := write(os.Stdout, c.Output, results); err != nil {
		setupLog.Error(err, "unable to write output")
		os.Exit(1)
	}
}

func write(w io.Writer, format string, v any) error {
	var out []byte
	var err error
	switch format {
	case config.OutputJSON:
		var raw []byte
		if raw, err = utiljson.Marshal(v); err != nil {
			return err
		}
		var buf bytes.Buffer
		if err = json.Indent(&buf, raw, "", "  "); err != nil {
			return err
		}
		buf.WriteByte('\n')
		out = buf.Bytes()
	default:
		if out, err = yaml.Marshal(v); err != nil {
			return err
		}
	}
	_, err = w.Write(out)
	return err
}
