package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helionwallet/ledgerlink/pkg/derive"
)

func TestTargetResolve(t *testing.T) {
	t.Run("account numbers are 1-based", func(t *testing.T) {
		p, err := Account(1).resolve()
		require.NoError(t, err)
		assert.Equal(t, "44'/148'/0'", p.String())

		p, err = Account(3).resolve()
		require.NoError(t, err)
		assert.Equal(t, "44'/148'/2'", p.String())
	})

	t.Run("account zero is invalid", func(t *testing.T) {
		_, err := Account(0).resolve()
		assert.ErrorIs(t, err, derive.ErrInvalidAccount)
	})

	t.Run("explicit path keeps its segments", func(t *testing.T) {
		p, err := AtPath("44'/148'/7'").resolve()
		require.NoError(t, err)
		assert.Equal(t, "44'/148'/7'", p.String())
	})

	t.Run("root marker is stripped", func(t *testing.T) {
		p, err := AtPath("m/44'/148'/7'").resolve()
		require.NoError(t, err)
		assert.Equal(t, "44'/148'/7'", p.String())
	})

	t.Run("empty path is invalid", func(t *testing.T) {
		_, err := AtPath("").resolve()
		assert.ErrorIs(t, err, derive.ErrInvalidAccount)

		_, err = AtPath("   ").resolve()
		assert.ErrorIs(t, err, derive.ErrInvalidAccount)
	})
}

func TestTargetString(t *testing.T) {
	assert.Equal(t, "account 2", Account(2).String())
	assert.Equal(t, "44'/148'/0'", AtPath("44'/148'/0'").String())
}
