package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// Runner executes one relayed command.
type Runner interface {
	Run(ctx context.Context, binary string, args []string) (string, error)
}

// Server is the agent side of the link. Each websocket connection may carry
// several requests at once; replies are written as commands finish.
type Server struct {
	runner   Runner
	log      *zap.Logger
	timeout  time.Duration
	upgrader websocket.Upgrader
}

const defaultCommandTimeout = 60 * time.Second

func NewServer(runner Runner, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		runner:  runner,
		log:     log,
		timeout: defaultCommandTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("relay_upgrade_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var wg conc.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	var writeMu sync.Mutex
	reply := func(rep Reply) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := ws.WriteJSON(rep); err != nil {
			s.log.Debug("relay_reply_dropped", zap.String("id", rep.ID), zap.Error(err))
		}
	}

	for {
		var req Request
		if err := ws.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("relay_link_closed", zap.String("remote", r.RemoteAddr), zap.Error(err))
			}
			return
		}
		if req.Method != MethodCall {
			reply(Reply{ID: req.ID, Error: "unknown method " + req.Method})
			continue
		}
		wg.Go(func() {
			cctx, ccancel := context.WithTimeout(ctx, s.timeout)
			defer ccancel()
			out, err := s.runner.Run(cctx, req.Binary, req.Args)
			rep := Reply{ID: req.ID, Output: out}
			if err != nil {
				rep.Error = err.Error()
			}
			s.log.Info("relay_call",
				zap.String("id", req.ID),
				zap.String("binary", req.Binary),
				zap.Strings("args", req.Args),
				zap.Bool("ok", err == nil),
			)
			reply(rep)
		})
	}
}
