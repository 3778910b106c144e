package rbac

// Feature names a space capability that can be gated per plan and role.
// The set is closed: lookups of unknown names always come back disabled.
type Feature string

const (
	FeatureDocumentHistory  Feature = "document_history"
	FeaturePublicSharing    Feature = "public_sharing"
	FeatureExtensionStorage Feature = "extension_storage"
	FeatureExport           Feature = "export"
	FeatureAttachments      Feature = "attachments"
	FeatureAuditLog         Feature = "audit_log"
)

// FeatureRule describes the gate for one feature. MinRole is the lowest role
// allowed to use it; Plans restricts it to the named space plans (empty means
// every plan).
type FeatureRule struct {
	MinRole Role
	Plans   []string
}

// Catalog is an immutable feature table, built once at process start.
type Catalog struct {
	rules map[Feature]FeatureRule
}

// DefaultCatalog returns the built-in feature table.
func DefaultCatalog() *Catalog {
	return NewCatalog(map[Feature]FeatureRule{
		FeatureDocumentHistory:  {MinRole: RoleViewer},
		FeaturePublicSharing:    {MinRole: RoleEditor},
		FeatureExtensionStorage: {MinRole: RoleViewer},
		FeatureExport:           {MinRole: RoleViewer},
		FeatureAttachments:      {MinRole: RoleEditor},
		FeatureAuditLog:         {MinRole: RoleOwner, Plans: []string{"team", "enterprise"}},
	})
}

func NewCatalog(rules map[Feature]FeatureRule) *Catalog {
	copied := make(map[Feature]FeatureRule, len(rules))
	for k, v := range rules {
		copied[k] = v
	}
	return &Catalog{rules: copied}
}

// Enabled reports whether feature is usable with the given role under plan.
// Unknown features are disabled rather than an error.
func (c *Catalog) Enabled(feature Feature, role Role, plan string) bool {
	rule, ok := c.rules[feature]
	if !ok {
		return false
	}
	if !AtLeast(role, rule.MinRole) {
		return false
	}
	if len(rule.Plans) == 0 {
		return true
	}
	for _, p := range rule.Plans {
		if p == plan {
			return true
		}
	}
	return false
}

// Known reports whether feature is part of the catalog at all.
func (c *Catalog) Known(feature Feature) bool {
	_, ok := c.rules[feature]
	return ok
}
