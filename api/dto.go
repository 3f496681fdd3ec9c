/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Catalog:
    TextbookDTO, CreateTextbookRequest, UpdateStockRequest

  Directory:
    BranchDTO, TeacherDTO, StudentDTO and their Create* requests

  Sets:
    SetDTO, CreateSetRequest

  Allocations:
    DistributionDTO, DistributionDetailDTO, CreateDistributionRequest,
    IndividualDistributionDTO, CreateIndividualRequest

  Returns:
    ReturnRequest, ReturnLineDTO, IndividualReturnRequest

  Reporting:
    StatisticsDTO

VALIDATION:
  Structural validation (missing fields, bad JSON) is done in handlers.
  Business validation lives in the engine; handlers translate engine errors
  to HTTP statuses.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/campus/textbook-engine/engine"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// TextbookDTO represents a textbook in API responses.
type TextbookDTO struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Subject        string `json:"subject,omitempty"`
	GradeFrom      int    `json:"grade_from"`
	GradeTo        int    `json:"grade_to"`
	TotalStock     int    `json:"total_stock"`
	AvailableStock int    `json:"available_stock"`
}

// CreateTextbookRequest is the request to create a textbook.
// AvailableStock starts equal to TotalStock.
type CreateTextbookRequest struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Subject    string `json:"subject"`
	GradeFrom  int    `json:"grade_from"`
	GradeTo    int    `json:"grade_to"`
	TotalStock int    `json:"total_stock"`
}

// UpdateStockRequest is the request to resize a textbook's total stock.
type UpdateStockRequest struct {
	TotalStock int `json:"total_stock"`
}

// BranchDTO represents a class branch.
type BranchDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Grade        int    `json:"grade"`
	StudentCount int    `json:"student_count"`
	TeacherID    string `json:"teacher_id,omitempty"`
}

// CreateBranchRequest is the request to create a branch.
type CreateBranchRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Grade        int    `json:"grade"`
	StudentCount int    `json:"student_count"`
	TeacherID    string `json:"teacher_id,omitempty"`
}

// TeacherDTO represents a teacher.
type TeacherDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StudentDTO represents a student.
type StudentDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	BranchID string `json:"branch_id,omitempty"`
}

// SetDTO represents a textbook set.
type SetDTO struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Grade       int      `json:"grade"`
	TextbookIDs []string `json:"textbook_ids"`
}

// CreateSetRequest is the request to create a textbook set.
type CreateSetRequest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Grade       int      `json:"grade"`
	TextbookIDs []string `json:"textbook_ids"`
}

// DistributionDetailDTO is one per-textbook line of a batch distribution.
type DistributionDetailDTO struct {
	TextbookID     string `json:"textbook_id"`
	DistributedQty int    `json:"distributed_qty"`
	ReturnedQty    int    `json:"returned_qty"`
	MissingQty     int    `json:"missing_qty"`
}

// DistributionDTO represents a batch distribution.
type DistributionDTO struct {
	ID            string                  `json:"id"`
	BranchID      string                  `json:"branch_id"`
	SetID         string                  `json:"set_id"`
	AcademicYear  string                  `json:"academic_year"`
	Status        string                  `json:"status"`
	DistributedAt string                  `json:"distributed_at"`
	ReturnedAt    *string                 `json:"returned_at,omitempty"`
	Details       []DistributionDetailDTO `json:"details"`
}

// CreateDistributionRequest is the request to allocate a set to a branch.
type CreateDistributionRequest struct {
	BranchID       string `json:"branch_id"`
	SetID          string `json:"set_id"`
	AcademicYear   string `json:"academic_year"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ReturnLineDTO is one returned/missing split in a batch return request.
type ReturnLineDTO struct {
	TextbookID  string `json:"textbook_id"`
	ReturnedQty int    `json:"returned_qty"`
	MissingQty  int    `json:"missing_qty"`
}

// ReturnRequest is the request to record returns on a batch distribution.
type ReturnRequest struct {
	Lines []ReturnLineDTO `json:"lines"`
}

// IndividualDistributionDTO represents an individual allocation.
type IndividualDistributionDTO struct {
	ID            string  `json:"id"`
	TextbookID    string  `json:"textbook_id"`
	RecipientType string  `json:"recipient_type"`
	RecipientID   string  `json:"recipient_id"`
	RecipientName string  `json:"recipient_name"`
	Quantity      int     `json:"quantity"`
	ReturnedQty   int     `json:"returned_qty"`
	MissingQty    int     `json:"missing_qty"`
	AcademicYear  string  `json:"academic_year"`
	Status        string  `json:"status"`
	DistributedAt string  `json:"distributed_at"`
	ReturnedAt    *string `json:"returned_at,omitempty"`
}

// CreateIndividualRequest is the request to allocate one textbook to a person.
type CreateIndividualRequest struct {
	TextbookID     string `json:"textbook_id"`
	RecipientType  string `json:"recipient_type"`
	RecipientID    string `json:"recipient_id"`
	RecipientName  string `json:"recipient_name,omitempty"`
	Quantity       int    `json:"quantity"`
	AcademicYear   string `json:"academic_year"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// IndividualReturnRequest is the request to record a return on an individual
// allocation.
type IndividualReturnRequest struct {
	ReturnedQty int `json:"returned_qty"`
	MissingQty  int `json:"missing_qty"`
}

// StatisticsDTO is the aggregate reporting snapshot.
type StatisticsDTO struct {
	TotalDistributions     int    `json:"total_distributions"`
	PendingReturns         int    `json:"pending_returns"`
	TotalMissingBooks      int    `json:"total_missing_books"`
	TotalTextbookStock     int    `json:"total_textbook_stock"`
	AvailableTextbookStock int    `json:"available_textbook_stock"`
	ReturnRate             string `json:"return_rate"`
	MissingRate            string `json:"missing_rate"`
	StockUtilization       string `json:"stock_utilization"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a demo scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toTextbookDTO(tb engine.Textbook) TextbookDTO {
	return TextbookDTO{
		ID:             string(tb.ID),
		Title:          tb.Title,
		Subject:        tb.Subject,
		GradeFrom:      tb.GradeFrom,
		GradeTo:        tb.GradeTo,
		TotalStock:     tb.TotalStock,
		AvailableStock: tb.AvailableStock,
	}
}

func toBranchDTO(b engine.Branch) BranchDTO {
	return BranchDTO{
		ID:           string(b.ID),
		Name:         b.Name,
		Grade:        b.Grade,
		StudentCount: b.StudentCount,
		TeacherID:    string(b.TeacherID),
	}
}

func toSetDTO(set engine.TextbookSet) SetDTO {
	ids := make([]string, len(set.TextbookIDs))
	for i, tid := range set.TextbookIDs {
		ids[i] = string(tid)
	}
	return SetDTO{
		ID:          string(set.ID),
		Name:        set.Name,
		Grade:       set.Grade,
		TextbookIDs: ids,
	}
}

func toDistributionDTO(d engine.Distribution) DistributionDTO {
	details := make([]DistributionDetailDTO, len(d.Details))
	for i, detail := range d.Details {
		details[i] = DistributionDetailDTO{
			TextbookID:     string(detail.TextbookID),
			DistributedQty: detail.DistributedQty,
			ReturnedQty:    detail.ReturnedQty,
			MissingQty:     detail.MissingQty,
		}
	}
	return DistributionDTO{
		ID:            string(d.ID),
		BranchID:      string(d.BranchID),
		SetID:         string(d.SetID),
		AcademicYear:  d.AcademicYear,
		Status:        string(d.Status),
		DistributedAt: d.DistributedAt.Format(time.RFC3339),
		ReturnedAt:    formatTimePtr(d.ReturnedAt),
		Details:       details,
	}
}

func toDistributionDTOs(ds []engine.Distribution) []DistributionDTO {
	dtos := make([]DistributionDTO, len(ds))
	for i, d := range ds {
		dtos[i] = toDistributionDTO(d)
	}
	return dtos
}

func toIndividualDTO(d engine.IndividualDistribution) IndividualDistributionDTO {
	return IndividualDistributionDTO{
		ID:            string(d.ID),
		TextbookID:    string(d.TextbookID),
		RecipientType: string(d.RecipientType),
		RecipientID:   d.RecipientID,
		RecipientName: d.RecipientName,
		Quantity:      d.Quantity,
		ReturnedQty:   d.ReturnedQty,
		MissingQty:    d.MissingQty,
		AcademicYear:  d.AcademicYear,
		Status:        string(d.Status),
		DistributedAt: d.DistributedAt.Format(time.RFC3339),
		ReturnedAt:    formatTimePtr(d.ReturnedAt),
	}
}

func toIndividualDTOs(ds []engine.IndividualDistribution) []IndividualDistributionDTO {
	dtos := make([]IndividualDistributionDTO, len(ds))
	for i, d := range ds {
		dtos[i] = toIndividualDTO(d)
	}
	return dtos
}

func toStatisticsDTO(s engine.Statistics) StatisticsDTO {
	return StatisticsDTO{
		TotalDistributions:     s.TotalDistributions,
		PendingReturns:         s.PendingReturns,
		TotalMissingBooks:      s.TotalMissingBooks,
		TotalTextbookStock:     s.TotalTextbookStock,
		AvailableTextbookStock: s.AvailableTextbookStock,
		ReturnRate:             s.ReturnRate.String(),
		MissingRate:            s.MissingRate.String(),
		StockUtilization:       s.StockUtilization.String(),
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.Format(time.RFC3339)
	return &formatted
}
