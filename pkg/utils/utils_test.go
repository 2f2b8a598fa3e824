package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPagination(t *testing.T) {
	p := NewPagination(0, 0, 45)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PageSize)
	assert.Equal(t, int64(3), p.Pages)
	assert.Equal(t, 0, p.Offset())

	p = NewPagination(3, 500, 0)
	assert.Equal(t, 200, p.Limit())
	assert.Equal(t, 400, p.Offset())
	assert.Equal(t, int64(0), p.Pages)
}
