package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// capture redirects Stdout into a buffer for the duration of fn.
func capture(t *testing.T, fn func()) string {
	t.Helper()
	old := Stdout
	defer func() { Stdout = old }()
	buf := &bytes.Buffer{}
	Stdout = buf
	fn()
	return buf.String()
}

func TestMessageHelpers(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		out := capture(t, func() { Success("deployed %d files", 42) })
		assert.Contains(t, out, "✓")
		assert.Contains(t, out, "deployed 42 files")
	})

	t.Run("info", func(t *testing.T) {
		out := capture(t, func() { Info("creating hosting version") })
		assert.Contains(t, out, "→")
		assert.Contains(t, out, "creating hosting version")
	})

	t.Run("warning", func(t *testing.T) {
		out := capture(t, func() { Warning("bucket already exists") })
		assert.Contains(t, out, "⚠")
	})

	t.Run("error", func(t *testing.T) {
		out := capture(t, func() { Error("permission denied") })
		assert.Contains(t, out, "✗")
		assert.Contains(t, out, "permission denied")
	})
}

func TestSteps(t *testing.T) {
	out := capture(t, func() {
		Step(1, 3, "uploading files")
		StepSuccess(2, 3, "files uploaded")
		StepError(3, 3, "release failed")
	})
	assert.Contains(t, out, "[1/3]")
	assert.Contains(t, out, "[2/3]")
	assert.Contains(t, out, "[3/3]")
	assert.Contains(t, out, "uploading files")
	assert.Contains(t, out, "release failed")
}

func TestKeyValue(t *testing.T) {
	out := capture(t, func() { KeyValue("Site", "my-app") })
	assert.Contains(t, out, "Site")
	assert.Contains(t, out, "my-app")

	out = capture(t, func() { KeyValueBold("URL", "https://my-app.web.app") })
	assert.Contains(t, out, "URL")
	assert.Contains(t, out, "https://my-app.web.app")
}

func TestHeader(t *testing.T) {
	out := capture(t, func() { Header("Deploying to Firebase Hosting") })
	assert.Contains(t, out, "Deploying to Firebase Hosting")
	assert.Contains(t, out, "━")
}

func TestConfirm(t *testing.T) {
	oldIn := Stdin
	defer func() { Stdin = oldIn }()

	t.Run("yes", func(t *testing.T) {
		Stdin = strings.NewReader("y\n")
		out := capture(t, func() { assert.True(t, Confirm("Delete gs://my-bucket/stale.csv?")) })
		assert.Contains(t, out, "[y/N]")
		assert.Contains(t, out, "Delete gs://my-bucket/stale.csv?")
	})

	t.Run("full word", func(t *testing.T) {
		Stdin = strings.NewReader("YES\n")
		capture(t, func() { assert.True(t, Confirm("Continue?")) })
	})

	t.Run("no", func(t *testing.T) {
		Stdin = strings.NewReader("n\n")
		capture(t, func() { assert.False(t, Confirm("Continue?")) })
	})

	t.Run("empty defaults to no", func(t *testing.T) {
		Stdin = strings.NewReader("\n")
		capture(t, func() { assert.False(t, Confirm("Continue?")) })
	})
}

func TestSpinnerResult(t *testing.T) {
	out := capture(t, func() { NewSpinner("uploading archive").Success("archive uploaded") })
	assert.Contains(t, out, "✓")
	assert.Contains(t, out, "archive uploaded")

	out = capture(t, func() { NewSpinner("uploading archive").Error("upload failed") })
	assert.Contains(t, out, "✗")
	assert.Contains(t, out, "upload failed")
}

func TestTable(t *testing.T) {
	out := capture(t, func() {
		Table([]string{"BUCKET", "LOCATION"}, [][]string{
			{"assets-prod", "US"},
			{"build-staging", "us-central1"},
		})
	})
	assert.Contains(t, out, "BUCKET")
	assert.Contains(t, out, "LOCATION")
	assert.Contains(t, out, "assets-prod")
	assert.Contains(t, out, "us-central1")
	assert.Contains(t, out, "─")

	t.Run("no headers prints nothing", func(t *testing.T) {
		out := capture(t, func() { Table(nil, [][]string{{"x"}}) })
		assert.Empty(t, out)
	})
}

func TestLists(t *testing.T) {
	out := capture(t, func() { List([]string{"first", "second"}) })
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "second")

	out = capture(t, func() { NumberedList([]string{"zip source", "upload archive"}) })
	assert.Contains(t, out, "1.")
	assert.Contains(t, out, "2.")
	assert.Contains(t, out, "upload archive")
}

func TestStatusBadge(t *testing.T) {
	for _, status := range []string{"succeeded", "running", "failed", "queued", "unknown"} {
		badge := StatusBadge(status)
		assert.Contains(t, badge, "●")
		assert.Contains(t, badge, status)
	}
}

func TestDuration(t *testing.T) {
	assert.Equal(t, "45s", Duration(45*time.Second))
	assert.Equal(t, "2m 5s", Duration(125*time.Second))
	assert.Equal(t, "1h 30m", Duration(90*time.Minute))
}

func TestBytes(t *testing.T) {
	assert.Equal(t, "512 B", Bytes(512))
	assert.Equal(t, "1.0 KB", Bytes(1024))
	assert.Equal(t, "1.2 MB", Bytes(1234567))
	assert.Equal(t, "2.0 GB", Bytes(2<<30))
}
