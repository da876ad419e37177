// Copyright 2024 Gridtiff Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package tiff

import (
	"encoding/xml"
	"strconv"

	"github.com/pkg/errors"
)

// Metadata builds the GDAL-style XML block embedded in the descriptive
// metadata tag: dataset items plus per-band description, unit, scale
// and offset items.
type Metadata struct {
	XMLName xml.Name       `xml:"GDALMetadata"`
	Items   []MetadataItem `xml:"Item"`
}

type MetadataItem struct {
	Name   string `xml:"name,attr"`
	Sample string `xml:"sample,attr,omitempty"`
	Role   string `xml:"role,attr,omitempty"`
	Value  string `xml:",chardata"`
}

func (m *Metadata) Add(name, value string) {
	m.Items = append(m.Items, MetadataItem{Name: name, Value: value})
}

// AddBand attaches an item to one band. Role is the reader-recognized
// item kind: "description", "unittype", "scale" or "offset".
func (m *Metadata) AddBand(name string, band int, role, value string) {
	m.Items = append(m.Items, MetadataItem{
		Name:   name,
		Sample: strconv.Itoa(band),
		Role:   role,
		Value:  value,
	})
}

// Encode serializes the block. Empty blocks encode to the empty
// string so the tag is omitted.
func (m *Metadata) Encode() (string, error) {
	if len(m.Items) == 0 {
		return "", nil
	}
	out, err := xml.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encode metadata block")
	}
	return string(out) + "\n", nil
}
