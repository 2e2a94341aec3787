package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("stage compute: %w", fmt.Errorf("%w: multiply_plain at level 0", LevelExhausted))

	k, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, LevelExhausted, k)
	require.True(t, errors.Is(err, LevelExhausted))
	require.False(t, errors.Is(err, TransportExhausted))

	_, ok = KindOf(errors.New("plain"))
	require.False(t, ok)
}

func TestParseKind(t *testing.T) {
	for _, k := range kinds {
		t.Run(k.String(), func(t *testing.T) {
			got, ok := ParseKind(fmt.Errorf("%w: detail", k).Error())
			require.True(t, ok)
			require.Equal(t, k, got)
		})
	}
	_, ok := ParseKind("something else: detail")
	require.False(t, ok)
}
