package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	info := Info()
	assert.Contains(t, info, "costtrace "+Version)
	assert.Contains(t, info, "commit "+Commit)
}
