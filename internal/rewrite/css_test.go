// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rewrite

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSS_RewritesURLFunctions(t *testing.T) {
	tgt := exampleTarget(t)
	in := `body { background: url(/bg.png); }
.a { background-image: url("https://example.com/a.png"); }
.b { background: url('relative/b.png') no-repeat; }
.c { background: url(https://cdn.test/keep.png); }`

	out, err := CSS([]byte(in), tgt)
	require.NoError(t, err)
	s := string(out)

	assert.Contains(t, s, `url(/m/example-com/bg.png)`)
	assert.Contains(t, s, `url("/m/example-com/a.png")`)
	assert.Contains(t, s, `url('/m/example-com/dir/relative/b.png')`)
	assert.Contains(t, s, `url(https://cdn.test/keep.png)`)
}

func TestCSS_SkipsDataAndFragment(t *testing.T) {
	tgt := exampleTarget(t)
	in := `.i { background: url(data:image/gif;base64,R0lGOD); clip-path: url(#mask); }`
	out, err := CSS([]byte(in), tgt)
	require.NoError(t, err)
	assert.Equal(t, in, string(out))
}

func TestCSS_ImportForms(t *testing.T) {
	tgt := exampleTarget(t)
	in := `@import "theme.css";
@import url("https://example.com/fonts.css") screen;
@import url(print.css);
@import "https://cdn.test/ext.css";`

	out, err := CSS([]byte(in), tgt)
	require.NoError(t, err)
	s := string(out)

	assert.Contains(t, s, `@import "/m/example-com/dir/theme.css";`)
	assert.Contains(t, s, `@import url("/m/example-com/fonts.css") screen;`)
	assert.Contains(t, s, `@import url(/m/example-com/dir/print.css);`)
	assert.Contains(t, s, `@import "https://cdn.test/ext.css";`)
}

func TestCSS_StringsOutsideImportUntouched(t *testing.T) {
	tgt := exampleTarget(t)
	in := `.q::before { content: "/local/path"; }`
	out, err := CSS([]byte(in), tgt)
	require.NoError(t, err)
	assert.Equal(t, in, string(out))
}

func TestCSS_PreservesUnrelatedTokens(t *testing.T) {
	tgt := exampleTarget(t)
	in := `/* comment */
@media (max-width: 600px) {
  .x { color: #fff; margin: 0 auto; }
}`
	out, err := CSS([]byte(in), tgt)
	require.NoError(t, err)
	if diff := cmp.Diff(in, string(out)); diff != "" {
		t.Errorf("CSS() modified unrelated tokens (-want +got):\n%s", diff)
	}
}

func TestCSS_FixedPoint(t *testing.T) {
	tgt := exampleTarget(t)
	in := `body { background: url(/bg.png); } @import "theme.css";`

	once, err := CSS([]byte(in), tgt)
	require.NoError(t, err)
	twice, err := CSS(once, tgt)
	require.NoError(t, err)
	assert.Equal(t, string(once), string(twice))
}
