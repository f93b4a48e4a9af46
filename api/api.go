// Package api implements the control API (spec §6.3, SPEC_FULL §10.1): a
// WebSocket JSON endpoint on 0.0.0.0:5555 accepting SetMode/GetMode/GetData
// /GetEvents/SetEvents commands. Grounded on the original's api/mod.rs
// message shapes and built with github.com/gorilla/websocket, the teacher
// pack's transport library for this kind of long-lived bidirectional
// connection (the teacher itself has no network surface; this package
// follows the pack's websocket-reference idiom instead).
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rand12345/beaglebone-v2h/errcode"
	"github.com/rand12345/beaglebone-v2h/scheduler"
	"github.com/rand12345/beaglebone-v2h/session"
	"github.com/rand12345/beaglebone-v2h/telemetry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// request mirrors the tagged JSON commands in spec §6.3.
type request struct {
	Cmd json.RawMessage `json:"cmd"`
}

type setModeCmd struct {
	SetMode *session.OperationMode `json:"SetMode"`
}

type setEventsCmd struct {
	SetEvents []scheduler.Event `json:"SetEvents"`
}

// Server wires an HTTP upgrade handler to the supervisor and telemetry
// store.
type Server struct {
	log       *zap.SugaredLogger
	sup       *supervisorPort
	tel       *telemetry.Store
	scheduler *scheduler.Scheduler
}

// supervisorPort decouples api from supervisor's concrete type (which
// depends on session + converter); only SetMode/CurrentMode are needed.
type supervisorPort struct {
	setMode func(m session.OperationMode) error
	mode    func() session.OperationMode
}

// NewServer constructs a Server. setMode/currentMode are the supervisor's
// bound methods, passed this way so api never imports the supervisor
// package directly (keeps the dependency graph acyclic per spec §9).
func NewServer(log *zap.SugaredLogger, tel *telemetry.Store, sch *scheduler.Scheduler, setMode func(session.OperationMode) error, currentMode func() session.OperationMode) *Server {
	return &Server{
		log:       log,
		tel:       tel,
		scheduler: sch,
		sup:       &supervisorPort{setMode: setMode, mode: currentMode},
	}
}

// ServeHTTP upgrades the connection and runs the per-connection read loop.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("control API upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		resp := s.handle(raw)
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (s *Server) handle(raw []byte) any {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return ackErr(errcode.ConfigParse)
	}

	var plain string
	if err := json.Unmarshal(req.Cmd, &plain); err == nil {
		switch plain {
		case "GetMode":
			return map[string]any{"Mode": s.sup.mode()}
		case "GetData":
			return map[string]any{"Data": s.tel.Read()}
		case "GetEvents":
			return map[string]any{"Events": s.scheduler.Events()}
		default:
			return ackErr(errcode.ConfigParse)
		}
	}

	var setMode setModeCmd
	if err := json.Unmarshal(req.Cmd, &setMode); err == nil && setMode.SetMode != nil {
		if err := s.sup.setMode(*setMode.SetMode); err != nil {
			return ackErr(errcode.ConfigParse)
		}
		return map[string]any{"Mode": *setMode.SetMode}
	}

	var setEvents setEventsCmd
	if err := json.Unmarshal(req.Cmd, &setEvents); err == nil && setEvents.SetEvents != nil {
		if err := s.scheduler.SetEvents(setEvents.SetEvents); err != nil {
			return ackErr(errcode.FileAccess)
		}
		return map[string]any{"Events": s.scheduler.Events()}
	}

	return ackErr(errcode.ConfigParse)
}

func ackErr(c errcode.Code) any {
	return map[string]string{"ack": "err", "code": string(c)}
}
