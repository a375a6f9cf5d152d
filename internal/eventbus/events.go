package eventbus

// Event types.
const (
	MicroserviceAdded           = "microservice.added"
	MicroserviceRemoved         = "microservice.removed"
	MicroserviceConstructFailed = "microservice.construct_failed"
	InvocationCompleted         = "invocation.completed"
	ConfigReloaded              = "config.reloaded"
)

// MicroserviceChange is the Data of the microservice.* events.
type MicroserviceChange struct {
	OrganizationID int64
	Key            string
	Type           string
	ID             string
	Err            string
}

// InvocationSummary is the Data of InvocationCompleted.
type InvocationSummary struct {
	Trigger int
	Kinds   string
	Saved   bool
	Err     string
}
