package access

import (
	"errors"
	"testing"

	"github.com/atmx/options-market/internal/model"
)

func TestAssignAndRequire(t *testing.T) {
	a := NewAuthorizer("root")

	if err := a.Assign(RoleFeeAdmin, "alice", "root"); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("assigning an unknown role: expected ErrUnauthorized, got %v", err)
	}
	if err := a.MakeKnown(RoleFeeAdmin, "root"); err != nil {
		t.Fatalf("make known: %v", err)
	}
	if err := a.Assign(RoleFeeAdmin, "alice", "root"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if err := a.Require("alice", RoleFeeAdmin); err != nil {
		t.Errorf("alice should hold fee_admin: %v", err)
	}
	if err := a.Require("alice", RoleOracleAdmin, RoleFeeAdmin); err != nil {
		t.Errorf("any matching role should pass: %v", err)
	}
	if err := a.Require("bob", RoleFeeAdmin); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("bob: expected ErrUnauthorized, got %v", err)
	}

	if err := a.Revoke(RoleFeeAdmin, "alice", "root"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := a.Require("alice", RoleFeeAdmin); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("revoked role still honored: %v", err)
	}
}

func TestOnlyManagerMayAdminister(t *testing.T) {
	a := NewAuthorizer("root")
	if err := a.MakeKnown(RoleFeeAdmin, "mallory"); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("MakeKnown by non-manager: got %v", err)
	}
	if err := a.TransferManager("mallory", "mallory"); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("TransferManager by non-manager: got %v", err)
	}
	if err := a.TransferManager("carol", "root"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if a.Manager() != "carol" {
		t.Errorf("expected carol as manager, got %s", a.Manager())
	}
	if err := a.MakeKnown(RoleFeeAdmin, "root"); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("old manager kept rights: %v", err)
	}
}

func TestBootstrap(t *testing.T) {
	a := Bootstrap("admin", RoleFeeAdmin, RoleOracleAdmin)
	for _, r := range []Role{RoleFeeAdmin, RoleOracleAdmin} {
		if err := a.Require("admin", r); err != nil {
			t.Errorf("admin should hold %s: %v", r, err)
		}
	}
	if err := a.Assign(RoleOracleAdmin, "bot", "admin"); err != nil {
		t.Errorf("bootstrapped roles should be known: %v", err)
	}
}
