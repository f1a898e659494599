package remote

import (
	"errors"
	"net"
	"net/url"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool { return true }

func TestClassifyTransportErr_TimeoutIsTransient(t *testing.T) {
	err := classifyTransportErr(fakeTimeoutErr{})
	assert.ErrorIs(t, err, ErrNetworkTransient)
}

func TestClassifyTransportErr_DNSFailureIsFatal(t *testing.T) {
	err := classifyTransportErr(&net.DNSError{Err: "no such host", Name: "example.invalid"})
	assert.ErrorIs(t, err, ErrNetworkFatal)
}

func TestClassifyTransportErr_ConnectionRefusedIsFatal(t *testing.T) {
	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	err := classifyTransportErr(opErr)
	assert.ErrorIs(t, err, ErrNetworkFatal)
}

func TestClassifyTransportErr_MalformedURLIsFatal(t *testing.T) {
	urlErr := &url.Error{Op: "Get", URL: "bogus://x", Err: errors.New("unsupported protocol scheme \"bogus\"")}
	err := classifyTransportErr(urlErr)
	assert.ErrorIs(t, err, ErrNetworkFatal)
}

func TestClassifyTransportErr_UnclassifiedIsTransient(t *testing.T) {
	err := classifyTransportErr(errors.New("connection reset by peer"))
	assert.ErrorIs(t, err, ErrNetworkTransient)
}
