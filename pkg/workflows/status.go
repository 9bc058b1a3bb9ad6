package workflows

import (
	"fmt"
	"strings"
)

// Status is the position of a task in the delivery pipeline
type Status string

const (
	StatusPendingAssignment      Status = "PENDING_ASSIGNMENT"
	StatusPendingArchitectDesign Status = "PENDING_ARCHITECT_DESIGN"
	StatusPendingEngineerDesign  Status = "PENDING_ENGINEER_DESIGN"
	StatusPendingDesignApproval  Status = "PENDING_DESIGN_APPROVAL"
	StatusPendingQuantifying     Status = "PENDING_QUANTIFYING"
	StatusPendingFinalApproval   Status = "PENDING_FINAL_APPROVAL"
	StatusPendingInvoicing       Status = "PENDING_INVOICING"
	StatusCompleted              Status = "COMPLETED"
	StatusRejected               Status = "REJECTED"
)

// AllStatuses lists every status in pipeline order
var AllStatuses = []Status{
	StatusPendingAssignment,
	StatusPendingArchitectDesign,
	StatusPendingEngineerDesign,
	StatusPendingDesignApproval,
	StatusPendingQuantifying,
	StatusPendingFinalApproval,
	StatusPendingInvoicing,
	StatusCompleted,
	StatusRejected,
}

// ParseStatus converts free text into a Status, rejecting anything outside the table
func ParseStatus(s string) (Status, error) {
	candidate := Status(strings.ToUpper(strings.TrimSpace(s)))
	if candidate.Valid() {
		return candidate, nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// Valid reports whether s is one of the defined statuses
func (s Status) Valid() bool {
	_, ok := statusOrder[s]
	return ok
}

// Terminal reports whether no further transitions leave s
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// ManagementOnly reports whether s is a review/billing state with no assignee role constraint
func (s Status) ManagementOnly() bool {
	switch s {
	case StatusPendingDesignApproval, StatusPendingFinalApproval, StatusPendingInvoicing:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

var statusOrder = func() map[Status]int {
	m := make(map[Status]int, len(AllStatuses))
	for i, s := range AllStatuses {
		m[s] = i
	}
	return m
}()

// Role is the job function a user holds
type Role string

const (
	RoleSuperUser        Role = "SUPER_USER"
	RoleArchitect        Role = "ARCHITECT"
	RoleEngineer         Role = "ENGINEER"
	RoleQuantitySurveyor Role = "QUANTITY_SURVEYOR"
	RoleTeamMember       Role = "TEAM_MEMBER"
)

// AllRoles lists every known role
var AllRoles = []Role{RoleSuperUser, RoleArchitect, RoleEngineer, RoleQuantitySurveyor, RoleTeamMember}

// ParseRole converts free text into a Role. ADMIN is accepted as an alias of SUPER_USER.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if r == "ADMIN" {
		return RoleSuperUser, nil
	}
	for _, known := range AllRoles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// IsManagement reports whether r may assign, approve and reject
func (r Role) IsManagement() bool {
	return r == RoleSuperUser
}

func (r Role) String() string { return string(r) }

// DocumentType is the category of a deliverable attached to a task
type DocumentType string

const (
	DocumentArchitectDesign DocumentType = "ARCHITECT_DESIGN"
	DocumentEngineerDesign  DocumentType = "ENGINEER_DESIGN"
	DocumentQuotation       DocumentType = "QUOTATION"
	DocumentInvoice         DocumentType = "INVOICE"
	DocumentOther           DocumentType = "OTHER"
)

// ParseDocumentType converts free text into a DocumentType
func ParseDocumentType(s string) (DocumentType, error) {
	d := DocumentType(strings.ToUpper(strings.TrimSpace(s)))
	switch d {
	case DocumentArchitectDesign, DocumentEngineerDesign, DocumentQuotation, DocumentInvoice, DocumentOther:
		return d, nil
	}
	return "", fmt.Errorf("unknown document type %q", s)
}

func (d DocumentType) String() string { return string(d) }
