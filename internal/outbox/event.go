package outbox

// Event is the domain event envelope written to the outbox table inside the
// same transaction as the appointment write. The Kafka topic name equals
// EventType (event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Appointment lifecycle event types consumed by the platform's notification
// and analytics services.
const (
	EventAppointmentBooked      = "scheduling.appointment.booked.v1"
	EventAppointmentCanceled    = "scheduling.appointment.canceled.v1"
	EventAppointmentRescheduled = "scheduling.appointment.rescheduled.v1"
	EventAppointmentCompleted   = "scheduling.appointment.completed.v1"
	EventAppointmentNoShow      = "scheduling.appointment.no_show.v1"
	EventAppointmentDeleted     = "scheduling.appointment.deleted.v1"
)
