package capture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeekPNGValidatesOptions(t *testing.T) {
	err := WeekPNG(context.Background(), Options{OutputPath: "out.png"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "URL is required")

	err = WeekPNG(context.Background(), Options{URL: "http://127.0.0.1:8080/week"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OutputPath is required")
}
