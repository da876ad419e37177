// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package checker validates an optimized container before it is
// published: structural layout, pixel fidelity against the baseline it
// was rewritten from, and metadata deduplication.
package checker

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/geodetic-data/gridtiff/pkg/checker/rule"
)

// Opt defines Checker options. Baseline is the unoptimized container
// the target was rewritten from; it may be empty when only structural
// checks are wanted.
type Opt struct {
	Baseline  string
	Target    string
	BandCount int
}

// Checker validates an optimized container by a sequence of rules.
type Checker struct {
	Opt
}

func New(opt Opt) (*Checker, error) {
	if opt.Target == "" {
		return nil, errors.New("no target container specified")
	}
	if _, err := os.Stat(opt.Target); err != nil {
		return nil, errors.Wrap(err, "stat target container")
	}
	if opt.BandCount == 0 {
		opt.BandCount = 4
	}
	return &Checker{Opt: opt}, nil
}

// Check runs all applicable rules against the target container.
func (checker *Checker) Check(_ context.Context) error {
	rules := []rule.Rule{
		&rule.StructureRule{
			Target:    checker.Target,
			BandCount: checker.BandCount,
		},
		&rule.DedupRule{
			Target: checker.Target,
		},
	}
	if checker.Baseline != "" {
		rules = append(rules, &rule.PixelRule{
			Baseline:  checker.Baseline,
			Target:    checker.Target,
			BandCount: checker.BandCount,
		})
	}

	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return errors.Wrapf(err, "validate rule %s", rule.Name())
		}
	}

	logrus.Infof("Verified container %s", checker.Target)

	return nil
}
