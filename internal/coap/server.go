package coap

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"
	coapnet "github.com/plgd-dev/go-coap/v3/net"
	"github.com/plgd-dev/go-coap/v3/options"
	"github.com/plgd-dev/go-coap/v3/udp"
	udpserver "github.com/plgd-dev/go-coap/v3/udp/server"
)

// Request is a decoded inbound request.
type Request struct {
	Method  codes.Code
	Path    string
	Payload []byte
}

// Response is the reply to a Request.
type Response struct {
	Code    codes.Code
	Payload []byte
}

// Handler answers a request. Returning nil sends no reply, which the
// client observes as a timeout.
type Handler interface {
	ServeCoAP(req *Request) *Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *Request) *Response

// ServeCoAP calls f(req).
func (f HandlerFunc) ServeCoAP(req *Request) *Response {
	return f(req)
}

// Server is a single-socket CoAP responder backed by a go-coap UDP server.
type Server struct {
	listener *coapnet.UDPConn
	srv      *udpserver.Server
	handler  Handler

	closeOnce sync.Once
	wg        sync.WaitGroup

	loggerMu sync.RWMutex
	logger   Logger
}

// Listen binds a UDP socket and starts serving in the background.
// Use "127.0.0.1:0" for an ephemeral test port.
func Listen(addr string, h Handler) (*Server, error) {
	l, err := coapnet.NewListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{listener: l, handler: h}
	router := mux.NewRouter()
	router.DefaultHandle(mux.HandlerFunc(s.serve))
	s.srv = udp.NewServer(options.WithMux(router))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.srv.Serve(l); err != nil {
			if lg := s.getLogger(); lg != nil {
				lg.Debug("coap server stopped", "error", err)
			}
		}
	}()
	return s, nil
}

// SetLogger sets the logger for this server.
func (s *Server) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	defer s.loggerMu.Unlock()
	s.logger = logger
}

func (s *Server) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.LocalAddr()
}

// Close stops the server and waits for the serve loop to exit.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.srv.Stop()
		err = s.listener.Close()
		s.wg.Wait()
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) serve(w mux.ResponseWriter, r *mux.Message) {
	path, err := r.Path()
	if err != nil {
		path = "/"
	}
	req := &Request{
		Method: r.Code(),
		Path:   "/" + strings.TrimPrefix(path, "/"),
	}
	if body := r.Body(); body != nil {
		if req.Payload, err = io.ReadAll(body); err != nil {
			return
		}
	}

	resp := s.handler.ServeCoAP(req)
	if resp == nil {
		return
	}

	var payload io.ReadSeeker
	if len(resp.Payload) > 0 {
		payload = bytes.NewReader(resp.Payload)
	}
	if err := w.SetResponse(resp.Code, message.TextPlain, payload); err != nil {
		if lg := s.getLogger(); lg != nil {
			lg.Debug("coap response failed", "path", req.Path, "error", err)
		}
	}
}
