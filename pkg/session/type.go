package session

type State string

const (
	// ingest
	AwaitingOffer State = "AwaitingOffer" /**< POST received, offer not applied yet */
	Negotiating   State = "Negotiating"   /**< Remote offer applied, gathering */
	// egress
	Idle           State = "Idle"
	Offering       State = "Offering"       /**< Local offer created, gathering */
	AwaitingAnswer State = "AwaitingAnswer" /**< Offer POSTed */
	// both
	Connected State = "Connected"
	Closed    State = "Closed"
)

func (s State) String() string {
	return string(s)
}

func (s State) IsInProgress() bool {
	switch s {
	case AwaitingOffer, Negotiating, Offering, AwaitingAnswer:
		return true
	default:
		return false
	}
}

func (s State) IsEstablished() bool {
	return s == Connected
}

func (s State) IsEnded() bool {
	return s == Closed
}

type Direction string

const (
	Outgoing Direction = "Outgoing" /**< egress, we publish */
	Incoming Direction = "Incoming" /**< ingest, a client publishes to us */
)

var transitions = map[Direction]map[State][]State{
	Incoming: {
		AwaitingOffer: {Negotiating, Closed},
		Negotiating:   {Connected, Closed},
		Connected:     {Closed},
	},
	Outgoing: {
		Idle:           {Offering, Closed},
		Offering:       {AwaitingAnswer, Closed},
		AwaitingAnswer: {Connected, Closed},
		Connected:      {Closed},
	},
}

// InitialState of a session of the given direction.
func InitialState(dir Direction) State {
	if dir == Incoming {
		return AwaitingOffer
	}
	return Idle
}

func CanTransition(dir Direction, from, to State) bool {
	for _, s := range transitions[dir][from] {
		if s == to {
			return true
		}
	}
	return false
}

// Reasons reported when a session closes.
const (
	ReasonClientDisconnect  = "Client disconnect"
	ReasonConnectTimeout    = "Connect timeout"
	ReasonDisconnected      = "Connection disconnected"
	ReasonFailed            = "Connection failed"
	ReasonClosed            = "Connection closed"
	ReasonHandleOffer       = "Failed to handle offer"
	ReasonLocalDescription  = "Failed to get local description"
	ReasonStopped           = "Stopped"
	ReasonServerShutdown    = "Server shutdown"
	ReasonOfferRejected     = "Offer rejected"
	ReasonRemoteDescription = "Failed to apply answer"
	ReasonCreateTransport   = "Failed to create transport"
	ReasonCreateOffer       = "Failed to create offer"
)
