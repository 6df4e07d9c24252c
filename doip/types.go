package doip

import (
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net"
)

// Logger is implemented by whatever logging backend the caller wires in.
// The core never depends on a concrete logging library, matching the
// narrow interface shape used throughout the reference implementation.
type Logger interface {
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Info(v ...interface{})
	Infof(format string, v ...interface{})
}

// NewLogger returns a Logger that writes to w using the standard library
// log package. Pass ioutil.Discard (or nil) to silence it entirely.
func NewLogger(w io.Writer) Logger {
	if w == nil {
		w = ioutil.Discard
	}
	return &stdLogger{log0: log.New(w, "doip: ", log.Lmicroseconds)}
}

type stdLogger struct {
	log0 *log.Logger
}

func (l *stdLogger) Debug(v ...interface{})                 { l.log0.Println(v...) }
func (l *stdLogger) Debugf(format string, v ...interface{}) { l.log0.Printf(format, v...) }
func (l *stdLogger) Info(v ...interface{})                  { l.log0.Println(v...) }
func (l *stdLogger) Infof(format string, v ...interface{})  { l.log0.Printf(format, v...) }

// Endpoint is the (ip, port) pair identifying either the local or the
// remote side of a TCP channel or UDP exchange.
type Endpoint struct {
	IP   net.IP
	Port int
}

func (e Endpoint) String() string {
	if e.IP == nil {
		return fmt.Sprintf(":%d", e.Port)
	}
	return fmt.Sprintf("%s:%d", e.IP.String(), e.Port)
}

// endpointFromAddr extracts an Endpoint from a net.Addr produced by the
// standard library TCP/UDP implementations.
func endpointFromAddr(a net.Addr) Endpoint {
	switch v := a.(type) {
	case *net.TCPAddr:
		return Endpoint{IP: v.IP, Port: v.Port}
	case *net.UDPAddr:
		return Endpoint{IP: v.IP, Port: v.Port}
	default:
		return Endpoint{}
	}
}
