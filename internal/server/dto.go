package server

import (
	"sitework/internal/domain"
)

// Request payloads

type RegisterRequest struct {
	Email    string `json:"email" format:"email"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type CreateUserRequest struct {
	Email    string `json:"email" format:"email"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty" enum:"manager,worker"`
}

type CreateProjectRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"active,archived"`
}

type CreateTaskRequest struct {
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"new,planned,in_progress,waiting_materials,done,postponed"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"new,planned,in_progress,waiting_materials,done,postponed"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
}

type CreateInstallationRequest struct {
	CreateTaskRequest
	ScheduledAt *string `json:"scheduled_at,omitempty" format:"date-time"`
	Address     *string `json:"address,omitempty"`
}

type UpdateInstallationRequest struct {
	UpdateTaskRequest
	ScheduledAt *string `json:"scheduled_at,omitempty" format:"date-time"`
	Address     *string `json:"address,omitempty"`
}

type PurchaseItemRequest struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Unit     string `json:"unit"`
	Note     string `json:"note,omitempty"`
}

type CreatePurchaseRequest struct {
	TaskID         *string               `json:"task_id,omitempty"`
	InstallationID *string               `json:"installation_id,omitempty"`
	Comment        string                `json:"comment,omitempty"`
	Items          []PurchaseItemRequest `json:"items,omitempty"`
}

type UpdatePurchaseRequest struct {
	Comment *string `json:"comment,omitempty"`
}

type SetPurchaseStatusRequest struct {
	Status string `json:"status" enum:"approved,rejected"`
}

type UpdatePurchaseItemRequest struct {
	Name     *string `json:"name,omitempty"`
	Quantity *int    `json:"quantity,omitempty"`
	Unit     *string `json:"unit,omitempty"`
	Note     *string `json:"note,omitempty"`
}

// Responses

type TokenResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type PurchaseRequestResponse struct {
	domain.PurchaseRequest
	Items []domain.PurchaseRequestItem `json:"items"`
}

// Detail responses embed the entity plus its children.

type ProjectDetailResponse struct {
	domain.Project
	Tasks         []domain.Task         `json:"tasks"`
	Installations []domain.Installation `json:"installations"`
}

type TaskDetailResponse struct {
	domain.Task
	PurchaseRequests []domain.PurchaseRequest `json:"purchase_requests"`
}

type InstallationDetailResponse struct {
	domain.Installation
	PurchaseRequests []domain.PurchaseRequest `json:"purchase_requests"`
}

func purchaseResponse(pr domain.PurchaseRequest, items []domain.PurchaseRequestItem) PurchaseRequestResponse {
	if items == nil {
		items = []domain.PurchaseRequestItem{}
	}
	return PurchaseRequestResponse{PurchaseRequest: pr, Items: items}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
