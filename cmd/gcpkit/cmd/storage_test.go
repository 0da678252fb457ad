package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitObjectURL(t *testing.T) {
	t.Run("bucket and object", func(t *testing.T) {
		bucket, object, err := splitObjectURL("gs://my-bucket/reports/2026/report.csv")
		require.NoError(t, err)
		assert.Equal(t, "my-bucket", bucket)
		assert.Equal(t, "reports/2026/report.csv", object)
	})

	t.Run("bucket only", func(t *testing.T) {
		bucket, object, err := splitObjectURL("gs://my-bucket")
		require.NoError(t, err)
		assert.Equal(t, "my-bucket", bucket)
		assert.Empty(t, object)
	})

	t.Run("not a gs url", func(t *testing.T) {
		_, _, err := splitObjectURL("/tmp/report.csv")
		assert.Error(t, err)
	})
}
