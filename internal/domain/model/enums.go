package model

// FlowPhase is the state of a pending upstream authorization.
type FlowPhase string

const (
	FlowAwaitingAuthorizationCode FlowPhase = "awaiting_authorization_code"
	FlowExchanging                FlowPhase = "exchanging"
	FlowConnected                 FlowPhase = "connected"
	FlowFailed                    FlowPhase = "failed"
)

// AllCategories is the category id that selects the whole catalog.
const AllCategories = "ALL"
