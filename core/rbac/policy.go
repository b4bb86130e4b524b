package rbac

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
)

type Permission = string

const (
	PermEngagementsView       Permission = "engagements.view"
	PermEngagementsManage     Permission = "engagements.manage"
	PermEngagementsTransition Permission = "engagements.transition"
	PermEngagementsApprove    Permission = "engagements.approve"
	PermTechniquesView        Permission = "techniques.view"
	PermTechniquesManage      Permission = "techniques.manage"
	PermMetricsView           Permission = "metrics.view"
	PermMetricsRecompute      Permission = "metrics.recompute"
	PermActionItemsView       Permission = "actionitems.view"
	PermActionItemsManage     Permission = "actionitems.manage"
	PermReportsGenerate       Permission = "reports.generate"
	PermOrgsManage            Permission = "orgs.manage"
	PermAuditView             Permission = "audit.view"
	PermAccountsManage        Permission = "accounts.manage"
)

const modelText = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch(r.obj, p.obj)
`

// DefaultRoles maps platform roles to permissions. Wildcards follow
// the permission dotted naming ("engagements.*").
func DefaultRoles() map[string][]Permission {
	return map[string][]Permission{
		"admin": {"*"},
		"coordinator": {
			"engagements.*",
			PermTechniquesView, PermTechniquesManage,
			"metrics.*",
			"actionitems.*",
			PermReportsGenerate,
			PermAuditView,
		},
		"operator": {
			PermEngagementsView,
			PermTechniquesView, PermTechniquesManage,
			PermMetricsView,
			PermActionItemsView, PermActionItemsManage,
		},
		"analyst": {
			PermEngagementsView,
			PermTechniquesView,
			PermMetricsView, PermMetricsRecompute,
			PermActionItemsView,
			PermReportsGenerate,
		},
		"spectator": {
			PermEngagementsView,
			PermTechniquesView,
			PermMetricsView,
			PermActionItemsView,
		},
	}
}

// Policy answers role -> permission questions via a casbin enforcer
// built from the in-code model.
type Policy struct {
	enforcer *casbin.Enforcer
}

func NewPolicy(roles map[string][]Permission) (*Policy, error) {
	m, err := casbinmodel.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("rbac model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("rbac enforcer: %w", err)
	}
	for role, perms := range roles {
		for _, perm := range perms {
			if _, err := e.AddPolicy(role, string(perm)); err != nil {
				return nil, fmt.Errorf("rbac policy %s/%s: %w", role, perm, err)
			}
		}
	}
	return &Policy{enforcer: e}, nil
}

// MustNewPolicy is for composition paths where the in-code defaults
// cannot legitimately fail.
func MustNewPolicy(roles map[string][]Permission) *Policy {
	p, err := NewPolicy(roles)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Policy) Allowed(roles []string, perm Permission) bool {
	if p == nil || p.enforcer == nil {
		return false
	}
	for _, role := range roles {
		ok, err := p.enforcer.Enforce(role, string(perm))
		if err == nil && ok {
			return true
		}
	}
	return false
}
