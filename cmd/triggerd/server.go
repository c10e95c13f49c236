package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/w1xm/ecam_trigger/retry"
	"github.com/w1xm/ecam_trigger/statelog"
	"github.com/w1xm/ecam_trigger/trigger"
)

// State is what /api/state and /api/ws report.
type State struct {
	State   trigger.OperationalState `json:"state"`
	Status  string                   `json:"status"`
	Trigger trigger.Status           `json:"trigger"`
	Time    time.Time                `json:"time"`
}

type Server struct {
	// mu serializes every controller call.
	mu  sync.Mutex
	c   *trigger.Controller
	log logrus.FieldLogger
	rec *statelog.Logger

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	state      State
	version    int
}

// NewServer serves c. rec may be nil.
func NewServer(c *trigger.Controller, rec *statelog.Logger, log logrus.FieldLogger) *Server {
	s := &Server{c: c, rec: rec, log: log}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	s.state = State{State: trigger.Alarm, Status: "Not polled yet.", Trigger: c.Status()}
	return s
}

func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.StateHandler).Methods(http.MethodGet)
	api.HandleFunc("/synchronize", s.SynchronizeHandler).Methods(http.MethodPost)
	api.HandleFunc("/prestart", s.PreStartHandler).Methods(http.MethodPost)
	api.HandleFunc("/start", s.StartHandler).Methods(http.MethodPost)
	api.HandleFunc("/abort", s.AbortHandler).Methods(http.MethodPost)
	api.HandleFunc("/params/{name}", s.GetParamHandler).Methods(http.MethodGet)
	api.HandleFunc("/params/{name}", s.SetParamHandler).Methods(http.MethodPut)
	api.HandleFunc("/master_motor", s.GetMasterMotorHandler).Methods(http.MethodGet)
	api.HandleFunc("/master_motor", s.SetMasterMotorHandler).Methods(http.MethodPut)
	api.HandleFunc("/start_trigger_only", s.GetStartTriggerOnlyHandler).Methods(http.MethodGet)
	api.HandleFunc("/start_trigger_only", s.SetStartTriggerOnlyHandler).Methods(http.MethodPut)
	api.HandleFunc("/ws", s.StatusSocketHandler)
	return r
}

// Poll refreshes the published state and wakes the status sockets.
func (s *Server) Poll(now time.Time) State {
	s.mu.Lock()
	state, status := s.c.Poll(1)
	st := State{State: state, Status: status, Trigger: s.c.Status(), Time: now}
	s.mu.Unlock()

	if s.rec != nil {
		s.rec.Record(st.State, st.Status, st.Trigger.Motor, now)
	}
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st.State != s.state.State || st.Status != s.state.Status {
		s.log.WithFields(logrus.Fields{"state": st.State, "status": st.Status}).Info("trigger state changed")
	}
	s.state = st
	s.version++
	s.statusCond.Broadcast()
	return st
}

func (s *Server) PollLoop(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		s.Poll(time.Now())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func errorCode(err error) int {
	var exhausted *retry.ExhaustedError
	switch {
	case errors.Is(err, trigger.ErrConfiguration),
		errors.Is(err, trigger.ErrCapacity),
		errors.Is(err, trigger.ErrInvalidAxis):
		return http.StatusBadRequest
	case errors.Is(err, trigger.ErrResolution), errors.Is(err, errNoParam):
		return http.StatusNotFound
	case errors.Is(err, trigger.ErrUpload), errors.As(err, &exhausted):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("writing response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errorCode(err)
	s.log.WithFields(logrus.Fields{"path": r.URL.Path, "code": code}).WithError(err).Warn("request failed")
	writeJSON(w, code, errorResponse{Code: code, Message: err.Error()})
}

func axisParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("axis")
	if v == "" {
		return 1, nil
	}
	axis, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", trigger.ErrInvalidAxis, v)
	}
	return axis, nil
}

// do runs fn on the controller for the requested axis.
func (s *Server) do(w http.ResponseWriter, r *http.Request, fn func(axis int) (interface{}, error)) {
	axis, err := axisParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.mu.Lock()
	v, err := fn(axis)
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if v == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) StateHandler(w http.ResponseWriter, r *http.Request) {
	s.statusMu.RLock()
	state := s.state
	s.statusMu.RUnlock()
	writeJSON(w, http.StatusOK, state)
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: bad request body: %w", trigger.ErrConfiguration, err)
	}
	return nil
}

func (s *Server) SynchronizeHandler(w http.ResponseWriter, r *http.Request) {
	var groups []trigger.SynchronizationRequest
	if err := decode(r, &groups); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.do(w, r, func(axis int) (interface{}, error) {
		return nil, s.c.Synchronize(axis, groups)
	})
}

func (s *Server) PreStartHandler(w http.ResponseWriter, r *http.Request) {
	s.do(w, r, func(axis int) (interface{}, error) {
		ready, err := s.c.PreStart(axis)
		return map[string]bool{"ready": ready}, err
	})
}

func (s *Server) StartHandler(w http.ResponseWriter, r *http.Request) {
	s.do(w, r, func(axis int) (interface{}, error) {
		return nil, s.c.Start(axis)
	})
}

func (s *Server) AbortHandler(w http.ResponseWriter, r *http.Request) {
	s.do(w, r, func(axis int) (interface{}, error) {
		return nil, s.c.Abort(axis)
	})
}

type param struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

func (s *Server) GetParamHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	s.do(w, r, func(axis int) (interface{}, error) {
		v, ok := s.c.GetAxisPar(axis, name)
		if !ok {
			return nil, errNoParam
		}
		return param{Name: name, Value: v}, nil
	})
}

var errNoParam = errors.New("parameter not set")

func (s *Server) SetParamHandler(w http.ResponseWriter, r *http.Request) {
	var p param
	if err := decode(r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	p.Name = mux.Vars(r)["name"]
	s.do(w, r, func(axis int) (interface{}, error) {
		return nil, s.c.SetAxisPar(axis, p.Name, p.Value)
	})
}

type masterMotor struct {
	Motor string `json:"motor"`
}

func (s *Server) GetMasterMotorHandler(w http.ResponseWriter, r *http.Request) {
	s.do(w, r, func(axis int) (interface{}, error) {
		return masterMotor{Motor: s.c.MasterMotor(axis)}, nil
	})
}

func (s *Server) SetMasterMotorHandler(w http.ResponseWriter, r *http.Request) {
	var m masterMotor
	if err := decode(r, &m); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.do(w, r, func(axis int) (interface{}, error) {
		return nil, s.c.SetMasterMotor(axis, m.Motor)
	})
}

type startTriggerOnly struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) GetStartTriggerOnlyHandler(w http.ResponseWriter, r *http.Request) {
	s.do(w, r, func(axis int) (interface{}, error) {
		return startTriggerOnly{Enabled: s.c.StartTriggerOnly(axis)}, nil
	})
}

func (s *Server) SetStartTriggerOnlyHandler(w http.ResponseWriter, r *http.Request) {
	var v startTriggerOnly
	if err := decode(r, &v); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.do(w, r, func(axis int) (interface{}, error) {
		return nil, s.c.SetStartTriggerOnly(axis, v.Enabled)
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StatusSocketHandler streams every polled state until the client goes away.
func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade")
		return
	}
	defer conn.Close()

	// Nothing is expected from the client; reading notices when it leaves.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	go func() {
		<-ctx.Done()
		s.statusMu.Lock()
		s.statusCond.Broadcast()
		s.statusMu.Unlock()
	}()

	seen := -1
	for {
		s.statusMu.RLock()
		for s.version == seen && ctx.Err() == nil {
			s.statusCond.Wait()
		}
		state := s.state
		seen = s.version
		s.statusMu.RUnlock()
		if ctx.Err() != nil {
			return
		}
		if err := conn.WriteJSON(state); err != nil {
			s.log.WithError(err).Debug("status socket closed")
			return
		}
	}
}
