package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthoritySeedsSelfAdministration(t *testing.T) {
	l := NewMemoryLedger()
	a, err := NewAuthority(l)
	require.NoError(t, err)

	assert.True(t, l.Has(a.Address(), a.Address(), ActionRootAdmin, nil))
	assert.Equal(t, 1, l.Len())
}

func TestAuthorityRejectsUnprivilegedGrant(t *testing.T) {
	l := NewMemoryLedger()
	a, err := NewAuthority(l)
	require.NoError(t, err)

	err = a.Grant("intruder", Grant{Resource: "r", Principal: "intruder", Action: "a"})
	assert.ErrorIs(t, err, ErrNotPermitted)
	assert.Equal(t, 1, l.Len())
}

func TestAuthorityInstallCapabilityAuthorizesGrants(t *testing.T) {
	l := NewMemoryLedger()
	a, err := NewAuthority(l)
	require.NoError(t, err)

	orch := Address("orchestrator:test")
	require.NoError(t, l.Grant(Grant{Resource: a.Address(), Principal: orch, Action: ActionApplyInstall}))

	g := Grant{Resource: "component:x", Principal: "component:y", Action: "read"}
	require.NoError(t, a.Grant(orch, g))
	assert.True(t, l.Has("component:x", "component:y", "read", nil))

	require.NoError(t, a.Revoke(orch, g))
	assert.False(t, l.Has("component:x", "component:y", "read", nil))
}

func TestAuthorityNarrowManagementIsResourceScoped(t *testing.T) {
	l := NewMemoryLedger()
	a, err := NewAuthority(l)
	require.NoError(t, err)

	helper := Address("helper:1")
	require.NoError(t, l.Grant(Grant{Resource: "component:x", Principal: helper, Action: ActionManagePermissions}))

	// In scope: grants on component:x.
	require.NoError(t, a.Grant(helper, Grant{Resource: "component:x", Principal: "caller", Action: "write"}))

	// Out of scope: any other resource.
	err = a.Grant(helper, Grant{Resource: "component:z", Principal: "caller", Action: "write"})
	assert.ErrorIs(t, err, ErrNotPermitted)
}
