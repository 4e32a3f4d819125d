package authtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/accessgate/pkg/auth"
	"github.com/platinummonkey/accessgate/pkg/rbac"
)

func TestIssuer_AcceptedByVerifier(t *testing.T) {
	session := auth.Session{UserID: "user-1", Email: "a@example.com", Role: rbac.RoleOrgAdmin, OrgID: "org-1"}

	token, err := NewIssuer("secret", "accessgate-test").Issue(session, time.Hour)
	require.NoError(t, err)

	got, err := auth.NewVerifier("secret", auth.WithIssuer("accessgate-test")).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, rbac.RoleOrgAdmin, got.Role)
	assert.Equal(t, "org-1", got.OrgID)

	_, err = auth.NewVerifier("other-secret").Verify(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
