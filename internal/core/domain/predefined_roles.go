package domain

// Names of provisioned roles.
const (
	RoleNameAdmin         = "Admin"
	RoleNameEditor        = "Editor"
	RoleNameAuthor        = "Author"
	RoleNameViewer        = "Viewer"
	RoleNamePlatformAdmin = "Platform Admin"
)

// RoleTemplate is a fixed role definition used for provisioning.
type RoleTemplate struct {
	Name        string
	Description string
	Grants      []ACLEntry
}

var contentResources = []ResourceType{ResourceListing, ResourceCategory, ResourceProduct, ResourceMedia}

func grants(actions []Action, resources ...ResourceType) []ACLEntry {
	out := make([]ACLEntry, 0, len(actions)*len(resources))
	for _, rt := range resources {
		for _, action := range actions {
			out = append(out, ACLEntry{ResourceType: rt, Action: action})
		}
	}
	return out
}

// PredefinedRoleTemplates returns the Admin, Editor, Author and Viewer templates.
func PredefinedRoleTemplates() []RoleTemplate {
	crud := []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}
	read := []Action{ActionRead}

	editor := grants(crud, contentResources...)
	editor = append(editor, grants(read, ResourceSite, ResourceSettings)...)

	author := grants([]Action{ActionCreate, ActionRead, ActionUpdate}, ResourceListing, ResourceProduct, ResourceMedia)
	author = append(author, grants(read, ResourceCategory)...)

	viewer := grants(read, append(append([]ResourceType{}, contentResources...), ResourceSite)...)

	return []RoleTemplate{
		{
			Name:        RoleNameAdmin,
			Description: "Full control over content, users, roles and settings",
			Grants: grants([]Action{ActionManage},
				ResourceListing, ResourceCategory, ResourceProduct, ResourceMedia,
				ResourceUser, ResourceRole, ResourceSite, ResourceSettings, ResourceAudit),
		},
		{Name: RoleNameEditor, Description: "Manage all content", Grants: editor},
		{Name: RoleNameAuthor, Description: "Create and edit content", Grants: author},
		{Name: RoleNameViewer, Description: "Read-only access to content", Grants: viewer},
	}
}

// PlatformAdminTemplate grants Manage on every resource type in every tenant.
func PlatformAdminTemplate() RoleTemplate {
	return RoleTemplate{
		Name:        RoleNamePlatformAdmin,
		Description: "Operator role with access to every tenant",
		Grants:      grants([]Action{ActionManage}, AllResourceTypes()...),
	}
}
