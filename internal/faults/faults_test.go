package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_KindMatching(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		kind error
	}{
		{"not found", NotFound("/x", "root missing"), ErrNotFound},
		{"ambiguous", Ambiguous("/x", []string{"a", "b"}, "two anat files"), ErrAmbiguousInput},
		{"missing dependency", MissingDependency("/x/run-1.feat", "run %s", "1"), ErrMissingDependency},
		{"empty aggregate", EmptyAggregate("/x/cope-001.gfeat", "cope %d", 1), ErrEmptyAggregate},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			wrapped := fmt.Errorf("materialize unit 3: %w", tc.err)
			assert.True(t, errors.Is(wrapped, tc.kind))

			var fe *Error
			require.True(t, errors.As(wrapped, &fe))
			assert.Equal(t, "/x", fe.Path[:2])
		})
	}
}

func TestError_Message(t *testing.T) {
	t.Parallel()

	err := Ambiguous("/study/anat", []string{"a.nii.gz", "b.nii.gz"}, "found %d anatomical files", 2)
	assert.Equal(t, "ambiguous input: found 2 anatomical files (/study/anat) candidates: a.nii.gz, b.nii.gz", err.Error())

	assert.Equal(t, "not found", (&Error{Kind: ErrNotFound}).Error())
}
