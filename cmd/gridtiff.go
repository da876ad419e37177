// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// The gridtiff CLI tool converts NTv2 geodetic correction grids into
// optimized single-file containers, either one file at a time or in
// batch over a whole grid distribution directory, and optionally
// publishes the results to an object storage backend.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/geodetic-data/gridtiff/pkg/catalog"
	"github.com/geodetic-data/gridtiff/pkg/checker"
	"github.com/geodetic-data/gridtiff/pkg/converter"
	"github.com/geodetic-data/gridtiff/pkg/metrics"
	"github.com/geodetic-data/gridtiff/pkg/metrics/fileexporter"
)

var versionGitCommit string
var versionBuildTime string

func isPossibleValue(excepted []string, value string) bool {
	for _, v := range excepted {
		if value == v {
			return true
		}
	}
	return false
}

func parseBackendConfig(backendConfigJSON, backendConfigFile string) (string, error) {
	if backendConfigJSON != "" && backendConfigFile != "" {
		return "", fmt.Errorf("--backend-config conflicts with --backend-config-file")
	}

	if backendConfigFile != "" {
		data, err := os.ReadFile(backendConfigFile)
		if err != nil {
			return "", errors.Wrap(err, "parse backend config file")
		}
		backendConfigJSON = string(data)
	}

	return backendConfigJSON, nil
}

func getBackendConfig(c *cli.Context) (string, string, error) {
	backendType := c.String("backend-type")
	if backendType == "" {
		return "", "", nil
	}
	possibleBackendTypes := []string{"oss", "s3"}
	if !isPossibleValue(possibleBackendTypes, backendType) {
		return "", "", fmt.Errorf("--backend-type should be one of %v", possibleBackendTypes)
	}
	backendConfig, err := parseBackendConfig(c.String("backend-config"), c.String("backend-config-file"))
	if err != nil {
		return "", "", err
	}
	if backendConfig == "" {
		return "", "", fmt.Errorf("--backend-config or --backend-config-file required")
	}
	return backendType, backendConfig, nil
}

func setupLogLevel(c *cli.Context) error {
	logLevel, err := logrus.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	logrus.SetLevel(logLevel)
	return nil
}

func setupMetrics(c *cli.Context) {
	if path := c.String("metrics-file"); path != "" {
		metrics.Register(fileexporter.New(path))
	}
}

var backendFlags = []cli.Flag{
	&cli.StringFlag{Name: "backend-type", Usage: "Publish converted containers to a storage backend (oss | s3)", EnvVars: []string{"BACKEND_TYPE"}},
	&cli.StringFlag{Name: "backend-config", Usage: "Storage backend configuration in JSON format", EnvVars: []string{"BACKEND_CONFIG"}},
	&cli.StringFlag{Name: "backend-config-file", TakesFile: true, Usage: "Path to storage backend configuration file", EnvVars: []string{"BACKEND_CONFIG_FILE"}},
	&cli.BoolFlag{Name: "backend-force-push", Usage: "Force to push even if the artifact already exists in the backend", EnvVars: []string{"BACKEND_FORCE_PUSH"}},
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	version := fmt.Sprintf("%s.%s", versionGitCommit, versionBuildTime)

	app := &cli.App{
		Name:    "gridtiff",
		Usage:   "NTv2 grid to optimized container converter",
		Version: version,
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{Name: "log-level", Value: "info", Usage: "Set log level (panic, fatal, error, warn, info, debug, trace)", EnvVars: []string{"LOG_LEVEL"}},
		&cli.StringFlag{Name: "metrics-file", Usage: "Export conversion metrics to a Prometheus text file", EnvVars: []string{"METRICS_FILE"}},
	}

	app.Commands = []*cli.Command{
		{
			Name:  "convert",
			Usage: "Convert one NTv2 grid file to an optimized container",
			Flags: append([]cli.Flag{
				&cli.StringFlag{Name: "source", Required: true, TakesFile: true, Usage: "Source NTv2 grid file", EnvVars: []string{"SOURCE"}},
				&cli.StringFlag{Name: "target", Required: true, Usage: "Target container file", EnvVars: []string{"TARGET"}},
				&cli.StringFlag{Name: "source-crs", Required: true, Usage: "Source CRS as EPSG:XXXX or WKT", EnvVars: []string{"SOURCE_CRS"}},
				&cli.StringFlag{Name: "target-crs", Required: true, Usage: "Target CRS as EPSG:XXXX or WKT", EnvVars: []string{"TARGET_CRS"}},
				&cli.StringFlag{Name: "copyright", Required: true, Usage: "Copyright info", EnvVars: []string{"COPYRIGHT"}},
				&cli.StringFlag{Name: "description", Usage: "Document description, derived from the grid header if omitted"},
				&cli.StringFlag{Name: "datetime", Usage: `Document date as "YYYY:MM:DD HH:MM:SS", or "NONE" to omit it`},
				&cli.StringFlag{Name: "work-dir", Usage: "Directory for the intermediate baseline container", EnvVars: []string{"WORK_DIR"}},
				&cli.BoolFlag{Name: "no-accuracy-samples", Usage: "Drop the accuracy bands, keeping shift values only"},
				&cli.BoolFlag{Name: "uint16-encoding", Usage: "Store samples as linearly scaled 16-bit integers"},
			}, backendFlags...),
			Action: func(c *cli.Context) error {
				setupMetrics(c)
				defer metrics.Export()

				backendType, backendConfig, err := getBackendConfig(c)
				if err != nil {
					return err
				}

				_, err = converter.Convert(c.Context, converter.Opt{
					Source:            c.String("source"),
					Dest:              c.String("target"),
					WorkDir:           c.String("work-dir"),
					SourceCRS:         c.String("source-crs"),
					TargetCRS:         c.String("target-crs"),
					Copyright:         c.String("copyright"),
					Description:       c.String("description"),
					DateTime:          c.String("datetime"),
					NoAccuracySamples: c.Bool("no-accuracy-samples"),
					UInt16Encoding:    c.Bool("uint16-encoding"),
					BackendType:       backendType,
					BackendConfig:     backendConfig,
					BackendForcePush:  c.Bool("backend-force-push"),
				})
				return err
			},
		},
		{
			Name:  "batch",
			Usage: "Convert every grid listed in a distribution's filelist.csv",
			Flags: append([]cli.Flag{
				&cli.StringFlag{Name: "root", Required: true, Usage: "Grid distribution directory holding filelist.csv", EnvVars: []string{"ROOT"}},
				&cli.StringFlag{Name: "output-dir", Value: ".", Usage: "Directory for converted containers", EnvVars: []string{"OUTPUT_DIR"}},
				&cli.UintFlag{Name: "workers", Value: 4, Usage: "Number of parallel conversions"},
				&cli.BoolFlag{Name: "uint16-encoding", Usage: "Store samples as linearly scaled 16-bit integers"},
			}, backendFlags...),
			Action: func(c *cli.Context) error {
				setupMetrics(c)
				defer metrics.Export()

				backendType, backendConfig, err := getBackendConfig(c)
				if err != nil {
					return err
				}

				return catalog.Run(c.Context, catalog.BatchOpt{
					Root:             c.String("root"),
					OutDir:           c.String("output-dir"),
					Workers:          c.Uint("workers"),
					UInt16Encoding:   c.Bool("uint16-encoding"),
					BackendType:      backendType,
					BackendConfig:    backendConfig,
					BackendForcePush: c.Bool("backend-force-push"),
				})
			},
		},
		{
			Name:  "check",
			Usage: "Verify the structure of an optimized container",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "target", Required: true, TakesFile: true, Usage: "Optimized container file", EnvVars: []string{"TARGET"}},
				&cli.StringFlag{Name: "baseline", TakesFile: true, Usage: "Baseline container to compare pixel bytes against"},
				&cli.IntFlag{Name: "band-count", Value: 4, Usage: "Samples per grid node (2 or 4)"},
			},
			Action: func(c *cli.Context) error {
				ck, err := checker.New(checker.Opt{
					Baseline:  c.String("baseline"),
					Target:    c.String("target"),
					BandCount: c.Int("band-count"),
				})
				if err != nil {
					return err
				}
				return ck.Check(c.Context)
			},
		},
	}

	app.Before = setupLogLevel

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
