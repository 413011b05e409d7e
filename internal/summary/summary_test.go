package summary

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadScalars(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "summary.sqlite3"))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WriteScalars(10, map[string]float64{
		"train/total_loss": 2.5,
		"test/accuracy":    41.0,
	}))

	loss, err := w.ReadScalar(10, "train/total_loss")
	require.NoError(t, err)
	assert.Equal(t, 2.5, loss)

	_, err = w.ReadScalar(10, "missing")
	require.Error(t, err)
}

func TestWriteScalars_OverwritesSameStep(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "summary.sqlite3"))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WriteScalars(5, map[string]float64{"dp/epsilon": 1.0}))
	require.NoError(t, w.WriteScalars(5, map[string]float64{"dp/epsilon": 2.0}))

	eps, err := w.ReadScalar(5, "dp/epsilon")
	require.NoError(t, err)
	assert.Equal(t, 2.0, eps)
}

func TestNilWriterIsSafe(t *testing.T) {
	var w *Writer
	assert.NoError(t, w.WriteScalars(1, map[string]float64{"x": 1}))
	assert.NoError(t, w.Close())
}
