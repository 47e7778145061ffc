package hierarchy

type Role string

const (
	RoleAdmin             Role = "ADMIN"
	RoleManager           Role = "MANAGER"
	RoleAssistantManager  Role = "ASSISTANT_MANAGER"
	RoleTeamLead          Role = "TEAM_LEAD"
	RoleEngineer          Role = "ENGINEER"
	RoleAssistantEngineer Role = "ASSISTANT_ENGINEER"
	RoleTechnician        Role = "TECHNICIAN"
	RoleIntern            Role = "INTERN"
)

// rankIndex orders roles by authority; lower index means more authority.
var rankIndex = map[Role]int{
	RoleAdmin:             0,
	RoleManager:           1,
	RoleAssistantManager:  2,
	RoleTeamLead:          3,
	RoleEngineer:          4,
	RoleAssistantEngineer: 5,
	RoleTechnician:        6,
	RoleIntern:            7,
}

// Roles lists every role from highest to lowest authority.
var Roles = []Role{
	RoleAdmin,
	RoleManager,
	RoleAssistantManager,
	RoleTeamLead,
	RoleEngineer,
	RoleAssistantEngineer,
	RoleTechnician,
	RoleIntern,
}

// RankIndex returns the role's position in the hierarchy. Unknown roles
// rank last.
func RankIndex(role Role) int {
	if idx, ok := rankIndex[role]; ok {
		return idx
	}
	return len(rankIndex)
}

// Outranks reports whether a holds strictly more authority than b.
// Peers never outrank each other.
func Outranks(a, b Role) bool {
	return RankIndex(a) < RankIndex(b)
}

func Valid(role Role) bool {
	_, ok := rankIndex[role]
	return ok
}

// Normalize maps unknown role strings to the least-privileged role.
func Normalize(role string) Role {
	if Valid(Role(role)) {
		return Role(role)
	}
	return RoleIntern
}
