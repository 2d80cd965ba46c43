package notify

// Event names pushed to tenant subscribers.
const (
	EventSession = "whatsapp.session" // account lifecycle changed
	EventContact = "contact"          // contact created or updated
	EventMessage = "message"          // outbound message accepted
)

// Actions carried in event payloads.
const (
	ActionUpdate = "update"
	ActionCreate = "create"
)

// Event is a single fan-out notification scoped to a tenant.
type Event struct {
	Tenant  string `json:"tenant"`
	Name    string `json:"name"`
	Payload any    `json:"payload"`
}
