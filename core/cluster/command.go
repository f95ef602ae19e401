package cluster

import "strings"

// Command is a backend command. By convention Command[1] is the shard key.
type Command []string

// Key returns the shard key of the command.
func (c Command) Key() (string, bool) {
	if len(c) < 2 {
		return "", false
	}
	return c[1], true
}

// Name returns the command verb, lower-cased.
func (c Command) Name() string {
	if len(c) == 0 {
		return ""
	}
	return strings.ToLower(c[0])
}

func (c Command) String() string { return strings.Join(c, " ") }

// Status is the outcome class of a reply.
type Status int

const (
	// StatusFailed is a well-formed non-success answer from the backend,
	// e.g. a missing key or a malformed command.
	StatusFailed Status = 0
	// StatusOK carries response values.
	StatusOK Status = 1
)

func (s Status) String() string {
	if s == StatusOK {
		return "ok"
	}
	return "failed"
}

type Reply struct {
	Status Status   `json:"status"`
	Values []string `json:"response,omitempty"`
}

// OK builds a successful reply.
func OK(values ...string) Reply { return Reply{Status: StatusOK, Values: values} }

// Failed builds an application-level failure reply.
func Failed(values ...string) Reply { return Reply{Status: StatusFailed, Values: values} }

func (r Reply) IsOK() bool { return r.Status == StatusOK }

// Err returns an *ApplicationError for failed replies and nil otherwise.
func (r Reply) Err() error {
	if r.IsOK() {
		return nil
	}
	return &ApplicationError{Values: r.Values}
}
