package sock

import "fmt"

// ResolutionError reports a failed name/service lookup. Callers log and
// abort the connection attempt; there is no retry at this layer.
type ResolutionError struct {
	Host string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("could not retrieve info for %s: %v", e.Host, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ConnectError reports an outbound connect that exhausted every resolved
// candidate. Err holds the last candidate's failure.
type ConnectError struct {
	Host string
	Port int
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("could not establish a connection to %s:%d: %v", e.Host, e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// BindError reports a failure binding a socket to an address. Fatal when it
// happens during listener setup at startup.
type BindError struct {
	Address string
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("unable to bind to %s: %v", e.Address, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// ListenError reports a failure starting the listening socket. Fatal to
// startup.
type ListenError struct {
	Address string
	Err     error
}

func (e *ListenError) Error() string {
	return fmt.Sprintf("unable to start listening socket on %s: %v", e.Address, e.Err)
}

func (e *ListenError) Unwrap() error { return e.Err }

// ModeError reports a failure toggling a descriptor's blocking mode.
type ModeError struct {
	Err error
}

func (e *ModeError) Error() string {
	return fmt.Sprintf("set blocking mode: %v", e.Err)
}

func (e *ModeError) Unwrap() error { return e.Err }

// AddressError reports a failure retrieving a socket's own or peer address.
type AddressError struct {
	Err error
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("socket address: %v", e.Err)
}

func (e *AddressError) Unwrap() error { return e.Err }
