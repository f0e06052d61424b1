package app

import (
	"net"
	"testing"
)

// findFreePort возвращает свободный TCP-порт на loopback-интерфейсе.
func findFreePort(t *testing.T) int {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen on free port: %v", err)
	}
	defer func() { _ = lis.Close() }()

	return lis.Addr().(*net.TCPAddr).Port
}
