package transfer

import (
	"net"

	"github.com/pkg/errors"
)

// DefaultPort is the TCP port used by the transfer protocol unless the
// caller specifies otherwise.
const DefaultPort = "5612"

// Dial establishes a TCP connection to a serving peer at the specified
// address.
func Dial(address string) (net.Conn, error) {
	connection, err := net.Dial("tcp", address)
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect")
	}
	return connection, nil
}

// ListenAndAccept listens on the specified address and accepts a single
// incoming connection. The listener is closed once the connection has been
// accepted since the protocol serves one transfer per invocation. An empty
// host in the address binds all interfaces.
func ListenAndAccept(address string) (net.Conn, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrap(err, "unable to listen")
	}
	defer listener.Close()

	connection, err := listener.Accept()
	if err != nil {
		return nil, errors.Wrap(err, "unable to accept connection")
	}
	return connection, nil
}
