package orders

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusPending: true, StatusCompleted: true},
	StatusCompleted: {StatusCompleted: true},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Task statuses as reported by the fulfillment service.
const (
	FulfillmentAssigned   = "ASSIGNED"
	FulfillmentInProgress = "IN_PROGRESS"
	FulfillmentCompleted  = "COMPLETED"
	FulfillmentRejected   = "REJECTED"
)

// Effect is what a fulfillment status does to its order.
type Effect int

const (
	EffectPending Effect = iota + 1
	EffectComplete
	EffectDelete
)

var fulfillmentEffects = map[string]Effect{
	FulfillmentAssigned:   EffectPending,
	FulfillmentInProgress: EffectPending,
	FulfillmentCompleted:  EffectComplete,
	FulfillmentRejected:   EffectDelete,
}

func EffectOf(fulfillmentStatus string) (Effect, bool) {
	e, ok := fulfillmentEffects[fulfillmentStatus]
	return e, ok
}
