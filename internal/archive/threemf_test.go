// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printarr/printarr/internal/cerrors"
)

const modelTwoMaterials = `<?xml version="1.0" encoding="UTF-8"?>
<model xmlns="http://schemas.microsoft.com/3dmanufacturing/core/2015/02">
  <resources>
    <basematerials id="1">
      <base name="Red PLA" displaycolor="#FF0000FF"/>
      <base name="Blue PLA" displaycolor="#0000FFFF"/>
    </basematerials>
  </resources>
</model>`

const modelOneMaterial = `<?xml version="1.0" encoding="UTF-8"?>
<model xmlns="http://schemas.microsoft.com/3dmanufacturing/core/2015/02">
  <resources>
    <basematerials id="1">
      <base name="Gray PLA" displaycolor="#808080FF"/>
    </basematerials>
  </resources>
</model>`

const modelColorGroup = `<?xml version="1.0" encoding="UTF-8"?>
<model xmlns="http://schemas.microsoft.com/3dmanufacturing/core/2015/02">
  <resources>
    <m:colorgroup xmlns:m="http://schemas.microsoft.com/3dmanufacturing/material/2015/02" id="2">
      <m:color color="#FF0000"/>
      <m:color color="#00FF00"/>
    </m:colorgroup>
  </resources>
</model>`

func write3MF(t *testing.T, dir, modelXML string) string {
	t.Helper()
	path := filepath.Join(dir, "design.3mf")
	writeZip(t, path, map[string]string{
		"[Content_Types].xml": `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"/>`,
		"3D/3dmodel.model":    modelXML,
	})
	return path
}

func TestAnalyze3MF(t *testing.T) {
	t.Run("two base materials means multi", func(t *testing.T) {
		path := write3MF(t, t.TempDir(), modelTwoMaterials)
		multi, err := Analyze3MF(path)
		require.NoError(t, err)
		assert.True(t, multi)
	})

	t.Run("single material means single", func(t *testing.T) {
		path := write3MF(t, t.TempDir(), modelOneMaterial)
		multi, err := Analyze3MF(path)
		require.NoError(t, err)
		assert.False(t, multi)
	})

	t.Run("two colour definitions mean multi", func(t *testing.T) {
		path := write3MF(t, t.TempDir(), modelColorGroup)
		multi, err := Analyze3MF(path)
		require.NoError(t, err)
		assert.True(t, multi)
	})

	t.Run("missing model document", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "empty.3mf")
		writeZip(t, path, map[string]string{"readme.txt": "x"})
		_, err := Analyze3MF(path)
		require.Error(t, err)
		assert.True(t, cerrors.IsKind(err, cerrors.KindPermanent))
	})

	t.Run("not a zip container", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "bogus.3mf")
		require.NoError(t, os.WriteFile(path, []byte("stl ascii"), 0o644))
		_, err := Analyze3MF(path)
		require.Error(t, err)
		assert.True(t, cerrors.IsKind(err, cerrors.KindPermanent))
	})
}
