package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	c, err := HashPassword("hunter22")
	require.NoError(t, err)

	assert.Len(t, c.Salt, saltSize*2)
	assert.Len(t, c.Hash, derivedKeySize*2)
	assert.True(t, CheckPassword(c, "hunter22"))
	assert.False(t, CheckPassword(c, "hunter23"))
	assert.False(t, CheckPassword(c, ""))
}

func TestHashPassword_FreshSalt(t *testing.T) {
	a, err := HashPassword("same-password")
	require.NoError(t, err)
	b, err := HashPassword("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestHashPassword_TooShort(t *testing.T) {
	_, err := HashPassword("abc")
	assert.Error(t, err)
}

func TestCheckPassword(t *testing.T) {
	tests := []struct {
		name string
		cred *domain.Credential
		want bool
	}{
		{name: "no credential", cred: nil, want: true},
		{name: "bad salt encoding", cred: &domain.Credential{Hash: "00", Salt: "zz"}, want: false},
		{name: "bad hash encoding", cred: &domain.Credential{Hash: "zz", Salt: "00"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckPassword(tt.cred, "anything"))
		})
	}
}
