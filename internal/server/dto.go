package server

import (
	"leadline/internal/agent"
	"leadline/internal/domain"
)

// Request payloads

type ExecuteAgentRequest struct {
	AgentName string `json:"agent_name" minLength:"1" example:"vetting"`
	// Context is handed to the agent as-is.
	Context any `json:"context,omitempty"`
}

type CreateLeadRequest struct {
	CompanyName string  `json:"company_name" minLength:"1" maxLength:"255"`
	Website     *string `json:"website,omitempty"`
	Region      *string `json:"region,omitempty"`
}

type UpdateLeadRequest struct {
	CompanyName   *string        `json:"company_name,omitempty"`
	Website       *string        `json:"website,omitempty"`
	Region        *string        `json:"region,omitempty"`
	Status        *string        `json:"status,omitempty" enum:"new,vetted,rejected,enriching,enriched,contacted,closed"`
	VettingStatus *string        `json:"vetting_status,omitempty" enum:"pending,approved,rejected"`
	PainPoints    map[string]any `json:"pain_points,omitempty"`
	Score         *int           `json:"score,omitempty" minimum:"0" maximum:"100"`
	// Version, when set, must match the stored version.
	Version *int `json:"version,omitempty" minimum:"1"`
}

type DiscoveryWebhookRequest struct {
	Leads []map[string]any `json:"leads"`
}

type EnrichmentWebhookRequest struct {
	PainPoints map[string]any `json:"pain_points,omitempty"`
	Score      *int           `json:"score,omitempty" minimum:"0" maximum:"100"`
	Status     *string        `json:"status,omitempty" enum:"new,vetted,rejected,enriching,enriched,contacted,closed"`
}

// Responses

type ScheduledResponse struct {
	Status    string `json:"status" example:"scheduled"`
	AgentName string `json:"agent_name"`
	Message   string `json:"message"`
}

type AgentResponse struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func agentResponses(ds []agent.Descriptor) []AgentResponse {
	out := make([]AgentResponse, 0, len(ds))
	for _, d := range ds {
		out = append(out, AgentResponse{Key: d.Key, Name: d.Name, Description: d.Description})
	}
	return out
}

type TriggerResponse struct {
	Status  string         `json:"status" example:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

type DiscoveryWebhookResponse struct {
	Received int    `json:"received"`
	Message  string `json:"message"`
}

type EnrichmentWebhookResponse struct {
	LeadID  string      `json:"lead_id"`
	Message string      `json:"message"`
	Lead    domain.Lead `json:"lead"`
}

type CreateProjectRequest struct {
	LeadID *string  `json:"lead_id,omitempty"`
	Stage  string   `json:"stage,omitempty" enum:"discovery,build,launch" default:"discovery"`
	Value  *float64 `json:"value,omitempty" minimum:"0" maximum:"99999999.99"`
}

type UpdateProjectRequest struct {
	Stage *string  `json:"stage,omitempty" enum:"discovery,build,launch"`
	Value *float64 `json:"value,omitempty" minimum:"0" maximum:"99999999.99"`
	// ClearValue removes the stored value.
	ClearValue bool `json:"clear_value,omitempty"`
}
