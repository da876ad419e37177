// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/geodetic-data/gridtiff/pkg/converter"
	"github.com/geodetic-data/gridtiff/pkg/utils"
)

// Some agencies leave the accuracy bands of their grids meaningless;
// those conversions carry shift values only.
var noAccuracyGrids = map[string]bool{
	"BWTA2017.gsb":       true,
	"DLx_ETRS89_geo.gsb": true,
	"D73_ETRS89_geo.gsb": true,
}

// BatchOpt configures one batch run over a grid distribution
// directory.
type BatchOpt struct {
	// Root is the distribution directory holding filelist.csv and the
	// grid files.
	Root   string
	OutDir string

	Workers uint

	UInt16Encoding bool

	BackendType      string
	BackendConfig    string
	BackendForcePush bool
}

type convertJob struct {
	ctx    context.Context
	opt    converter.Opt
	result *converter.Result
	err    error
}

func (job *convertJob) Do() error {
	job.result, job.err = converter.Convert(job.ctx, job.opt)
	return job.err
}

func (job *convertJob) Err() error {
	return job.err
}

// Run converts every horizontal-offset grid the catalog lists,
// spreading conversions over a worker pool. Entries of other kinds are
// skipped with a warning. The first conversion error is returned after
// all workers drain.
func Run(ctx context.Context, opt BatchOpt) error {
	entries, err := Load(filepath.Join(opt.Root, "filelist.csv"))
	if err != nil {
		return err
	}
	workers := opt.Workers
	if workers == 0 {
		workers = 4
	}

	var jobs []*convertJob
	for i := range entries {
		entry := &entries[i]
		if entry.Type != TypeHorizontalOffset {
			logrus.Warnf("skipping %s: unsupported grid type %s", entry.Filename, entry.Type)
			continue
		}
		source, err := entry.Resolve(opt.Root)
		if err != nil {
			return err
		}
		baseName := filepath.Base(source)
		dest := strings.TrimSuffix(baseName, filepath.Ext(baseName)) + ".tif"
		jobs = append(jobs, &convertJob{
			ctx: ctx,
			opt: converter.Opt{
				Source:            source,
				Dest:              filepath.Join(opt.OutDir, dest),
				SourceCRS:         entry.SourceCRS,
				TargetCRS:         entry.TargetCRS,
				Copyright:         entry.Copyright(),
				NoAccuracySamples: noAccuracyGrids[baseName],
				UInt16Encoding:    opt.UInt16Encoding,
				BackendType:       opt.BackendType,
				BackendConfig:     opt.BackendConfig,
				BackendForcePush:  opt.BackendForcePush,
			},
		})
	}
	if len(jobs) == 0 {
		return errors.New("catalog lists no horizontal-offset grids")
	}
	logrus.Infof("converting %d grids with %d workers", len(jobs), workers)

	pool := utils.NewQueueWorkerPool(workers, uint(len(jobs)))
	for _, job := range jobs {
		pool.Put(job)
	}

	converted := 0
	var firstErr error
	for _, waiter := range pool.Waiter() {
		job := (<-waiter).(*convertJob)
		if job.Err() != nil {
			logrus.WithError(job.Err()).Errorf("convert %s", job.opt.Source)
			if firstErr == nil {
				firstErr = errors.Wrapf(job.Err(), "convert %s", job.opt.Source)
			}
			continue
		}
		converted++
	}
	if firstErr != nil {
		return firstErr
	}
	logrus.Infof("converted %d grids", converted)
	return nil
}
