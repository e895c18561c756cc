// Package relay carries ping requests to a privileged agent over a websocket
// link. The monitor process holds a Client; the agent serves a Server.
package relay

// MethodCall is the only request method the relay understands.
const MethodCall = "call"

// Request asks the agent to run Binary with Args and return its output.
type Request struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Binary string   `json:"binary"`
	Args   []string `json:"args"`
}

// Reply answers the Request with the same ID. Error is set when the command
// could not be run or exited unsuccessfully; Output may still carry text.
type Reply struct {
	ID     string `json:"id"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RemoteError is an error reported by the agent for one request.
type RemoteError struct {
	Msg    string
	Output string
}

func (e *RemoteError) Error() string { return "relay: " + e.Msg }
