package federation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisplayNameNilDirectoryReturnsID(t *testing.T) {
	var d *Directory
	assert.Equal(t, "hospital-a", d.DisplayName(context.Background(), "hospital-a"))
}

func TestDisplayNameDisabledClientReturnsID(t *testing.T) {
	d := NewDirectory(nil)
	assert.Equal(t, "hospital-a", d.DisplayName(context.Background(), "hospital-a"))
}
