// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"strings"

	"github.com/printarr/printarr/internal/cerrors"
)

// Analyze3MF opens a .3mf container and counts distinct base materials and
// colour definitions in the model XML. Two or more means the design is a
// multi-material print. This is the authoritative signal, overriding the
// caption heuristic.
func Analyze3MF(path string) (multi bool, err error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return false, cerrors.Wrap(cerrors.KindPermanent, "not a valid 3mf container", err)
	}
	defer r.Close()

	var model *zip.File
	for _, f := range r.File {
		if strings.EqualFold(f.Name, "3D/3dmodel.model") ||
			strings.HasSuffix(strings.ToLower(f.Name), ".model") {
			model = f
			break
		}
	}
	if model == nil {
		return false, cerrors.E(cerrors.KindPermanent, "3mf container has no model document")
	}
	rc, err := model.Open()
	if err != nil {
		return false, cerrors.Wrap(cerrors.KindPermanent, "corrupt 3mf model document", err)
	}
	defer rc.Close()
	return scanModelXML(rc)
}

// scanModelXML streams the model document counting material and colour
// nodes without loading the mesh into memory.
func scanModelXML(r io.Reader) (bool, error) {
	dec := xml.NewDecoder(r)
	colors := map[string]bool{}
	materials := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, cerrors.Wrap(cerrors.KindPermanent, "malformed 3mf model xml", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch strings.ToLower(se.Name.Local) {
		case "base":
			materials++
			for _, a := range se.Attr {
				if strings.EqualFold(a.Name.Local, "displaycolor") {
					colors[strings.ToLower(a.Value)] = true
				}
			}
		case "color":
			for _, a := range se.Attr {
				if strings.EqualFold(a.Name.Local, "color") {
					colors[strings.ToLower(a.Value)] = true
				}
			}
		}
		if materials >= 2 || len(colors) >= 2 {
			return true, nil
		}
	}
	return materials >= 2 || len(colors) >= 2, nil
}
