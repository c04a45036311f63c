package wire

// Hello is the message exchanged between peers when a connection medium is established.
type Hello struct {
	InstanceID    string
	Namespace     string
	ParticipantID string
	Role          string
}
