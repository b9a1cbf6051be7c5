package dda

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutputBasic(t *testing.T) {
	content := "1 2 3 9\n1 8 9 1\n"
	out, err := ParseOutput(strings.NewReader(content), 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 8}, out.ErrorValues)
	assert.Equal(t, [][]float64{{3, 9}}, out.QMatrix)
}

func TestParseOutputEmptyContent(t *testing.T) {
	content := "# comment only\n\n# another\n"
	_, err := ParseOutput(strings.NewReader(content), 4)
	assert.ErrorIs(t, err, ErrNoValidData)
}

func TestParseOutputSkipsMismatchedRows(t *testing.T) {
	content := "1 2 3 4 5\n1 2 3\n1 5 6 7 8\n"
	out, err := ParseOutput(strings.NewReader(content), 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 5}, out.ErrorValues)
}

func TestParseOutputSingleChannelFallback(t *testing.T) {
	content := "1 2\n3 4\n"
	out, err := ParseOutput(strings.NewReader(content), 4)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2, 3, 4}}, out.QMatrix)
	assert.Equal(t, []float64{2, 4}, out.ErrorValues)
}

func TestParseOutputBytesMatchesReaderVariant(t *testing.T) {
	content := []byte("1 2 3 9\n1 8 9 1\n")
	out, err := ParseOutputBytes(content, 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 8}, out.ErrorValues)
	assert.Equal(t, [][]float64{{3, 9}}, out.QMatrix)
}

func TestParseOutputIgnoresNonFiniteRows(t *testing.T) {
	content := "1 2 3 9\nnan inf 9 1\n1 8 9 1\n"
	out, err := ParseOutput(strings.NewReader(content), 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 8}, out.ErrorValues)
}
