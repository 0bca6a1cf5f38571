package workflow

import "fmt"

// =============================================================================
// STATUS - Workflow stages in strict forward order
// =============================================================================

type Status string

const (
	StatusCreated               Status = "CREATED"
	StatusNutritionistPending   Status = "NUTRITIONIST_PENDING"
	StatusNutritionistConfirmed Status = "NUTRITIONIST_CONFIRMED"
	StatusCoordinationPending   Status = "COORDINATION_PENDING"
	StatusCoordinationConfirmed Status = "COORDINATION_CONFIRMED"
	StatusLogisticsPending      Status = "LOGISTICS_PENDING"
	StatusLogisticsConfirmed    Status = "LOGISTICS_CONFIRMED"
	StatusPrintReleased         Status = "PRINT_RELEASED"
)

var statusOrder = []Status{
	StatusCreated,
	StatusNutritionistPending,
	StatusNutritionistConfirmed,
	StatusCoordinationPending,
	StatusCoordinationConfirmed,
	StatusLogisticsPending,
	StatusLogisticsConfirmed,
	StatusPrintReleased,
}

// AllStatuses returns the stages in workflow order.
func AllStatuses() []Status {
	return append([]Status(nil), statusOrder...)
}

func (s Status) index() int {
	for i, st := range statusOrder {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Status) Valid() bool { return s.index() >= 0 }

// Next returns the immediate successor. PRINT_RELEASED has none.
func (s Status) Next() (Status, bool) {
	i := s.index()
	if i < 0 || i == len(statusOrder)-1 {
		return "", false
	}
	return statusOrder[i+1], true
}

func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", v)}
	}
	return s, nil
}

// =============================================================================
// ROLES
// =============================================================================

type Role string

const (
	RoleNutritionist Role = "nutritionist"
	RoleCoordination Role = "coordination"
	RoleLogistics    Role = "logistics"
	// RoleSystem performs the implicit transitions.
	RoleSystem Role = "system"
)

func ParseRole(v string) (Role, error) {
	switch r := Role(v); r {
	case RoleNutritionist, RoleCoordination, RoleLogistics:
		return r, nil
	}
	return "", &ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", v)}
}

// Owner returns the role that owns a stage. PRINT_RELEASED is owned by nobody.
func (s Status) Owner() Role {
	switch s {
	case StatusCreated, StatusNutritionistPending, StatusNutritionistConfirmed:
		return RoleNutritionist
	case StatusCoordinationPending, StatusCoordinationConfirmed:
		return RoleCoordination
	case StatusLogisticsPending, StatusLogisticsConfirmed:
		return RoleLogistics
	}
	return ""
}

// CanEdit reports whether the role may edit quantities or swap products on a
// record in status s.
func (r Role) CanEdit(s Status) bool {
	switch r {
	case RoleNutritionist:
		return s == StatusCreated || s == StatusNutritionistPending
	case RoleCoordination:
		return s == StatusCoordinationPending
	case RoleLogistics:
		return s == StatusLogisticsPending
	}
	return false
}

// EditableStatuses lists the stages in which r may write.
func (r Role) EditableStatuses() []Status {
	var out []Status
	for _, s := range statusOrder {
		if r.CanEdit(s) {
			out = append(out, s)
		}
	}
	return out
}

// NecessityStatuses lists the necessity stages visible to r.
func (r Role) NecessityStatuses() []Status {
	switch r {
	case RoleNutritionist:
		return []Status{StatusCreated, StatusNutritionistPending}
	case RoleCoordination:
		return []Status{StatusCoordinationPending, StatusCoordinationConfirmed}
	case RoleLogistics:
		return []Status{StatusLogisticsPending, StatusLogisticsConfirmed}
	}
	return nil
}

// SubstitutionStatuses lists the substitution stages visible to r.
func (r Role) SubstitutionStatuses() []Status {
	switch r {
	case RoleNutritionist:
		return []Status{StatusNutritionistPending, StatusNutritionistConfirmed}
	case RoleCoordination:
		return []Status{StatusCoordinationPending, StatusCoordinationConfirmed}
	case RoleLogistics:
		return []Status{StatusLogisticsPending, StatusLogisticsConfirmed, StatusPrintReleased}
	}
	return nil
}

func containsStatus(list []Status, s Status) bool {
	for _, st := range list {
		if st == s {
			return true
		}
	}
	return false
}

// narrowStatuses intersects a caller-supplied status filter with the stages a
// role may see. An empty request means every visible stage.
func narrowStatuses(visible, requested []Status) []Status {
	if len(requested) == 0 {
		return append([]Status(nil), visible...)
	}
	var out []Status
	for _, s := range requested {
		if containsStatus(visible, s) {
			out = append(out, s)
		}
	}
	return out
}
