package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		name   string
		status int
		err    error
		want   ErrorClass
	}{
		{"transport error", 0, ErrBackendUnavailable, ClassTransient},
		{"too many requests", 429, nil, ClassRateLimited},
		{"request timeout", 408, nil, ClassTransient},
		{"server error", 500, nil, ClassTransient},
		{"bad gateway", 502, nil, ClassTransient},
		{"bad request", 400, nil, ClassPermanent},
		{"not found", 404, nil, ClassPermanent},
		{"conflict", 409, nil, ClassPermanent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			classified := ClassifyStatus(tc.status, tc.err)
			require.NotNil(t, classified)
			assert.Equal(t, tc.want, classified.Class)
			assert.Equal(t, tc.status, classified.Status)
			assert.NotEmpty(t, classified.Message)
		})
	}
}

func TestClassifyStatusSuccessIsNil(t *testing.T) {
	assert.Nil(t, ClassifyStatus(200, nil))
	assert.Nil(t, ClassifyStatus(204, nil))
}

func TestClassOfDefaultsToPermanent(t *testing.T) {
	// Unclassified errors are never retried by accident.
	assert.Equal(t, ClassPermanent, ClassOf(NewErrorf("something odd")))
	assert.False(t, IsTransient(ErrRecordNotFound))

	assert.True(t, IsTransient(NewClassifiedError(ClassTransient, ErrBackendUnavailable)))
}

func TestClassSurvivesWrapping(t *testing.T) {
	inner := ClassifyStatus(503, nil)
	wrapped := WrapError(inner, "fetch failed")

	assert.True(t, IsTransient(wrapped))
	assert.Equal(t, ClassTransient, ClassOf(wrapped))
}

func TestErrorfKeepsSentinel(t *testing.T) {
	err := Errorf(ErrRecordNotFound, "id: %s", "t1")

	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.Contains(t, err.Error(), "t1")
}
