package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleAdministrator, ActionMentionEveryone, true},
		{RoleAdministrator, ActionModerate, true},
		{RoleMember, ActionPost, true},
		{RoleMember, ActionMentionEveryone, false},
		{RoleMember, ActionModerate, false},
		{Role("bot"), ActionPost, false},
	}
	for _, c := range cases {
		if got := Can(c.role, c.action); got != c.want {
			t.Errorf("Can(%s, %s) = %v, want %v", c.role, c.action, got, c.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("administrator") != RoleAdministrator {
		t.Error("administrator should normalize to itself")
	}
	if Normalize("") != RoleMember {
		t.Error("unknown roles should normalize to member")
	}
}
