package wsmux

import (
	"testing"
	"time"
)

// newSessionPair builds a connected client/server Session pair over an
// in-memory chanCarrier, tearing both down when the test ends.
func newSessionPair(t *testing.T, configure func(client, server *Config)) (client, server *Session) {
	t.Helper()

	ca, cb := newCarrierPair()

	clientCfg := DefaultConfig()
	clientCfg.Role = RoleClient
	clientCfg.KeepAliveInterval = 0

	serverCfg := DefaultConfig()
	serverCfg.Role = RoleServer
	serverCfg.KeepAliveInterval = 0

	if configure != nil {
		configure(clientCfg, serverCfg)
	}

	var err error
	client, err = NewSession(ca, clientCfg)
	if err != nil {
		t.Fatalf("NewSession(client): %v", err)
	}
	server, err = NewSession(cb, serverCfg)
	if err != nil {
		t.Fatalf("NewSession(server): %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

// dialAndAccept opens a stream from client to targetPort and returns both
// ends once the server's Listener has accepted it.
func dialAndAccept(t *testing.T, client, server *Session, targetPort uint16) (*Stream, *AcceptedStream) {
	t.Helper()

	l := server.Listen()
	acceptErr := make(chan error, 1)
	var accepted *AcceptedStream
	go func() {
		a, err := l.Accept()
		accepted = a
		acceptErr <- err
	}()

	clientStream, err := client.DialStreamTimeout(HostFromName("target.invalid"), targetPort, time.Second)
	if err != nil {
		t.Fatalf("DialStream: %v", err)
	}
	if err := <-acceptErr; err != nil {
		t.Fatalf("Accept: %v", err)
	}
	return clientStream, accepted
}
