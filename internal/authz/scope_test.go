package authz

import (
	"errors"
	"testing"
)

func TestEffectiveTenantSuperAdmin(t *testing.T) {
	actor := Actor{AccountID: "acc-1", Role: RoleSuperAdmin}

	tenant, err := EffectiveTenant(actor, "")
	if err != nil {
		t.Fatalf("EffectiveTenant: %v", err)
	}
	if tenant != "" {
		t.Fatalf("expected unscoped resolution, got %q", tenant)
	}

	tenant, err = EffectiveTenant(actor, "city-almaty")
	if err != nil {
		t.Fatalf("EffectiveTenant: %v", err)
	}
	if tenant != "city-almaty" {
		t.Fatalf("expected requested tenant honored, got %q", tenant)
	}
}

func TestEffectiveTenantIgnoresForeignRequest(t *testing.T) {
	for _, role := range []Role{RoleAdmin, RoleSupervisor, RoleUser} {
		actor := Actor{AccountID: "acc-2", Role: role, TenantID: "city-astana"}
		tenant, err := EffectiveTenant(actor, "city-almaty")
		if err != nil {
			t.Fatalf("EffectiveTenant(%s): %v", role, err)
		}
		if tenant != "city-astana" {
			t.Fatalf("%s widened scope to %q", role, tenant)
		}
	}
}

func TestEffectiveTenantFailsClosedWithoutTenant(t *testing.T) {
	actor := Actor{AccountID: "acc-3", Role: RoleAdmin}
	if _, err := EffectiveTenant(actor, "city-almaty"); !errors.Is(err, ErrTenantRequired) {
		t.Fatalf("expected ErrTenantRequired, got %v", err)
	}
}
