package fsf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStub(t *testing.T) {
	t.Parallel()

	src := `# custom settings
set fmri(mc) 1
set fmri(alternative_mask) "/data/mask.nii.gz"
  set fmri(smooth)   6
setting ignored
set
`
	got, err := ParseStub(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, []Setting{
		{Key: "fmri(mc)", Value: "1", Note: customNote},
		{Key: "fmri(alternative_mask)", Value: `"/data/mask.nii.gz"`, Note: customNote},
		{Key: "fmri(smooth)", Value: "6", Note: customNote},
	}, got)
}

func TestNew_DefaultsOnly(t *testing.T) {
	t.Parallel()

	for _, level := range []int{1, 2, 3} {
		d, err := New(level, nil)
		require.NoError(t, err)
		v, ok := d.Value("fmri(level)")
		require.True(t, ok)
		if level == 1 {
			assert.Equal(t, "1", v)
		} else {
			assert.Equal(t, "2", v)
		}
		assert.True(t, strings.HasPrefix(d.String(), "# Automatically generated by featflow\n"))
		assert.True(t, strings.HasSuffix(d.String(), "### AUTOMATICALLY GENERATED PART ###\n\n"))
	}

	_, err := New(4, nil)
	assert.ErrorContains(t, err, "no default stub for level 4")
}

func TestNew_Overrides(t *testing.T) {
	t.Parallel()

	d, err := New(3, []Setting{
		{Key: "fmri(mixed_yn)", Value: "3", Note: customNote},
		{Key: "fmri(mixed_yn)", Value: "4"},
		{Key: "fmri(randomisePermutations)", Value: "5000", Note: "Higher-level permutations"},
		{Key: "fmri(thresh)", Value: "4"},
	})
	require.NoError(t, err)

	out := d.String()
	mixed, _ := d.Value("fmri(mixed_yn)")
	assert.Equal(t, "4", mixed)
	assert.Equal(t, 1, strings.Count(out, "set fmri(mixed_yn)"))
	assert.Equal(t, 1, strings.Count(out, "set fmri(thresh)"))
	assert.NotContains(t, out, "set fmri(thresh) 3\n")

	addl := strings.Index(out, "### Additional settings ###")
	perm := strings.Index(out, "# Higher-level permutations\nset fmri(randomisePermutations) 5000\n")
	gen := strings.Index(out, "### AUTOMATICALLY GENERATED PART ###")
	require.True(t, addl > 0 && perm > addl && gen > perm, out)
}

func TestDocument_GeneratedSection(t *testing.T) {
	t.Parallel()

	d, err := New(2, []Setting{{Key: "fmri(robust_yn)", Value: "1", Note: customNote}})
	require.NoError(t, err)
	d.SetQuoted("fmri(outputdir)", "/out/sub-01_task-a.gfeat")
	d.Setf("fmri(npts)", "%d", 2)
	d.SetBool("fmri(copeinput.1)", true)
	d.SetBool("fmri(copeinput.2)", false)

	path := filepath.Join(t.TempDir(), "design.fsf")
	require.NoError(t, d.WriteFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, "# From custom stub file\nset fmri(robust_yn) 1\n")
	assert.Contains(t, out, `set fmri(outputdir) "/out/sub-01_task-a.gfeat"`)
	assert.Contains(t, out, "set fmri(npts) 2\nset fmri(copeinput.1) 1\nset fmri(copeinput.2) 0\n")
}
