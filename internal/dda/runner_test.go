package dda

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunnerInvalidPath(t *testing.T) {
	_, err := NewRunner("/nonexistent/path/to/binary")
	require.Error(t, err)
	var notFound *ErrBinaryNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestSelectMaskBitsDefault(t *testing.T) {
	m := DefaultSelectMask()
	assert.Equal(t, []string{"1", "0", "0", "0", "0", "0"}, m.Bits())
}

func TestSelectMaskBitsAllEnabled(t *testing.T) {
	m := SelectMask{ST: true, CT: true, CD: true, DE: true, SY: true}
	assert.Equal(t, []string{"1", "1", "1", "0", "1", "1"}, m.Bits())
	variants := m.enabledVariants()
	require.Len(t, variants, 4)
	assert.Equal(t, []Variant{VariantST, VariantCT, VariantCD, VariantDE}, variants)
}

func TestChannelIndicesDefault(t *testing.T) {
	assert.Equal(t, []string{"1"}, channelIndices(nil))
	assert.Equal(t, []string{"2", "3"}, channelIndices([]string{"2", "3"}))
}
