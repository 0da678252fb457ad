package gcperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	t.Run("with cause", func(t *testing.T) {
		err := New("storage", "failed to create bucket", errors.New("boom"))
		assert.Equal(t, "storage: failed to create bucket: boom", err.Error())
	})

	t.Run("without cause", func(t *testing.T) {
		err := Validation("pubsub", "topic name is required")
		assert.Equal(t, "pubsub: topic name is required", err.Error())
	})
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("underlying failure")
	err := New("firestore", "failed to get document", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestIsMatchesByKindAndService(t *testing.T) {
	err := NotFound("storage", "bucket does not exist", nil)

	assert.True(t, errors.Is(err, &Error{Kind: KindNotFound}))
	assert.True(t, errors.Is(err, &Error{Kind: KindNotFound, Service: "storage"}))
	assert.False(t, errors.Is(err, &Error{Kind: KindNotFound, Service: "pubsub"}))
	assert.False(t, errors.Is(err, &Error{Kind: KindValidation}))
}

func TestIsThroughWrappedChain(t *testing.T) {
	inner := NotFound("secretmanager", "secret does not exist", nil)
	outer := fmt.Errorf("loading credentials: %w", inner)

	assert.True(t, IsNotFound(outer))
	assert.Equal(t, KindNotFound, KindOf(outer))
	assert.Equal(t, "secretmanager", ServiceOf(outer))
}

func TestWithDetail(t *testing.T) {
	err := Validation("hosting", "file map is empty").
		WithDetail("site_id", "my-site").
		WithDetail("file_count", 0)

	require.NotNil(t, err.Details)
	assert.Equal(t, "my-site", err.Details["site_id"])
	assert.Equal(t, 0, err.Details["file_count"])
}

func TestKindHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"not found matches", NotFound("iam", "service account missing", nil), IsNotFound, true},
		{"not found rejects other kind", Validation("iam", "email required"), IsNotFound, false},
		{"validation matches", Validation("bigquery", "dataset id required"), IsValidation, true},
		{"already exists matches", AlreadyExists("pubsub", "topic exists", nil), IsAlreadyExists, true},
		{"timeout matches", Timeout("cloudbuild", "build wait expired", nil), IsTimeout, true},
		{"plain error matches nothing", errors.New("boom"), IsNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindService, KindOf(errors.New("boom")))
	assert.Equal(t, "", ServiceOf(errors.New("boom")))
}
