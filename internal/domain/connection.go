package domain

// ConnectionState is the result of a sender connection test. The set of
// states is closed: ConnectionIdle, ConnectionTesting, ConnectionOK and
// ConnectionFailed.
type ConnectionState interface {
	connectionState()
	Status() string
}

// ConnectionIdle means no test has been run.
type ConnectionIdle struct{}

// ConnectionTesting means a test is in flight.
type ConnectionTesting struct{}

// ConnectionOK means the test message was accepted.
type ConnectionOK struct{}

// ConnectionFailed means the test message was rejected.
type ConnectionFailed struct {
	Detail string
}

func (ConnectionIdle) connectionState()    {}
func (ConnectionTesting) connectionState() {}
func (ConnectionOK) connectionState()      {}
func (ConnectionFailed) connectionState()  {}

func (ConnectionIdle) Status() string    { return "idle" }
func (ConnectionTesting) Status() string { return "testing" }
func (ConnectionOK) Status() string      { return "success" }
func (ConnectionFailed) Status() string  { return "error" }

// ConnectionView is the JSON form of a ConnectionState.
type ConnectionView struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ViewConnection converts a state to its JSON form.
func ViewConnection(s ConnectionState) ConnectionView {
	if s == nil {
		s = ConnectionIdle{}
	}
	v := ConnectionView{Status: s.Status()}
	if f, ok := s.(ConnectionFailed); ok {
		v.Detail = f.Detail
	}
	return v
}
