package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseVector(t *testing.T) {
	v, err := parseVector(" 1, 2.5 ,-3")
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2.5, -3}, v)

	v, err = parseVector("  ")
	require.NoError(t, err)
	require.Nil(t, v)

	_, err = parseVector("1,x")
	require.Error(t, err)
}

func TestParseSizes(t *testing.T) {
	sizes, err := parseSizes("1, 10,100")
	require.NoError(t, err)
	require.Equal(t, []int{1, 10, 100}, sizes)

	_, err = parseSizes("10,1.5")
	require.Error(t, err)
}
