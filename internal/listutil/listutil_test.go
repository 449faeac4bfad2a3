package listutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderSubjects(t *testing.T) {
	files := []string{
		"/l1/surf_contrasts/_subject_id_subject2/con_0001.img",
		"/l1/surf_contrasts/_subject_id_subject1/con_0001.img",
		"/l1/surf_contrasts/_subject_id_subject11/con_0001.img",
	}

	t.Run("follows subject order", func(t *testing.T) {
		got := OrderSubjects(files, []string{"subject1", "subject2"})
		assert.Equal(t, []string{files[1], files[0]}, got)
	})

	t.Run("marker does not match prefixes", func(t *testing.T) {
		got := OrderSubjects(files, []string{"subject1"})
		assert.Equal(t, []string{files[1]}, got)
	})

	t.Run("unknown subjects are skipped", func(t *testing.T) {
		got := OrderSubjects(files, []string{"subject9", "subject11"})
		assert.Equal(t, []string{files[2]}, got)
	})

	t.Run("first match wins", func(t *testing.T) {
		dup := []string{
			"/a/_subject_id_s1/x.dat",
			"/b/_subject_id_s1/y.dat",
		}
		assert.Equal(t, []string{dup[0]}, OrderSubjects(dup, []string{"s1"}))
	})

	t.Run("empty inputs", func(t *testing.T) {
		assert.Empty(t, OrderSubjects(nil, []string{"s1"}))
		assert.Empty(t, OrderSubjects(files, nil))
	})
}

func TestOrderSubjects_Properties(t *testing.T) {
	cases := []struct {
		files    []string
		subjects []string
	}{
		{[]string{"/_subject_id_a/1", "/_subject_id_b/1"}, []string{"a", "a", "b", "b"}},
		{[]string{"/_subject_id_a/1"}, []string{"a", "a"}},
		{[]string{"/x/1", "/_subject_id_c/2", "/_subject_id_c/3"}, []string{"c", "c", "c"}},
		{nil, []string{"a"}},
	}
	for _, tc := range cases {
		got := OrderSubjects(tc.files, tc.subjects)
		require.LessOrEqual(t, len(got), len(tc.files))
		for _, path := range got {
			matched := false
			for _, s := range tc.subjects {
				if strings.Contains(path, SubjectMarker(s)) {
					matched = true
				}
			}
			assert.True(t, matched, "path %q carries no subject marker", path)
		}
	}
}

func TestListToTuple(t *testing.T) {
	in := [][]string{{"con1", "reg1"}, {"con2", "reg2"}}
	got := ListToTuple(in)
	require.Len(t, got, len(in))
	assert.Equal(t, in, got)

	// The result must not alias the input.
	got[0][0] = "changed"
	assert.Equal(t, "con1", in[0][0])

	assert.Empty(t, ListToTuple(nil))
}

func TestPairs(t *testing.T) {
	pairs, err := Pairs([][]string{{"v1", "r1"}, {"v2", "r2"}})
	require.NoError(t, err)
	assert.Equal(t, []Pair{{"v1", "r1"}, {"v2", "r2"}}, pairs)

	_, err = Pairs([][]string{{"v1"}})
	assert.ErrorContains(t, err, "expected a pair, got 1 values")
}
