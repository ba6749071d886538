package events

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chronodo/chrono-sync/types"
	"github.com/chronodo/chrono-sync/utils"
)

type FanoutConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	PongWait     time.Duration `json:"pong_wait"`
	WriteWait    time.Duration `json:"write_wait"`
	SendBuffer   int           `json:"send_buffer"`
}

// WebSocketFanout bridges bus events to connected UI sessions. Each
// session subscribes to its owner's todo and activity channels plus
// global notifications; a slow or dead connection is dropped, never
// allowed to stall the bus.
type WebSocketFanout struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   types.Logger
	bus      types.EventBus
	config   *FanoutConfig
	upgrader websocket.Upgrader
	sessions map[*session]struct{}
	mu       sync.Mutex
	running  int32
}

type session struct {
	conn    *websocket.Conn
	ownerID string
	send    chan *types.Event
	subs    []*types.Subscription
}

func NewWebSocketFanout(ctx context.Context, logger types.Logger, bus types.EventBus, config *types.FanoutConfig) (*WebSocketFanout, error) {
	fanoutConfig := &FanoutConfig{
		PingInterval: 54 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    10 * time.Second,
		SendBuffer:   64,
	}

	if config != nil && config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, fanoutConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal fanout config")
		}
	}

	fanoutCtx, cancel := context.WithCancel(ctx)

	return &WebSocketFanout{
		ctx:    fanoutCtx,
		cancel: cancel,
		logger: logger,
		bus:    bus,
		config: fanoutConfig,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		sessions: make(map[*session]struct{}),
	}, nil
}

// ServeHTTP upgrades the request and attaches the session for the owner
// named in the owner_id query parameter.
func (f *WebSocketFanout) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !f.IsRunning() {
		http.Error(w, "fanout not running", http.StatusServiceUnavailable)
		return
	}

	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		http.Error(w, "owner_id required", http.StatusBadRequest)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	if err := f.attach(conn, ownerID); err != nil {
		f.logger.Error("Failed to attach session",
			zap.String("owner_id", ownerID),
			zap.Error(err))
		conn.Close()
	}
}

func (f *WebSocketFanout) attach(conn *websocket.Conn, ownerID string) error {
	s := &session{
		conn:    conn,
		ownerID: ownerID,
		send:    make(chan *types.Event, f.config.SendBuffer),
	}

	forward := func(event *types.Event) error {
		select {
		case s.send <- event:
		default:
			f.logger.Warn("Session send buffer full, dropping event",
				zap.String("owner_id", s.ownerID),
				zap.String("channel", event.Channel))
		}
		return nil
	}

	todoSub, err := f.bus.SubscribePattern(TodoPattern(ownerID), forward)
	if err != nil {
		return err
	}
	activitySub, err := f.bus.Subscribe(ActivityChannel(ownerID), forward)
	if err != nil {
		f.bus.Unsubscribe(todoSub)
		return err
	}
	notifySub, err := f.bus.Subscribe(NotificationsChannel, forward)
	if err != nil {
		f.bus.Unsubscribe(todoSub)
		f.bus.Unsubscribe(activitySub)
		return err
	}

	s.subs = []*types.Subscription{todoSub, activitySub, notifySub}

	f.mu.Lock()
	f.sessions[s] = struct{}{}
	f.mu.Unlock()

	go f.writePump(s)
	go f.readPump(s)

	f.logger.Debug("Session attached", zap.String("owner_id", ownerID))
	return nil
}

func (f *WebSocketFanout) writePump(s *session) {
	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()
	defer f.detach(s)

	for {
		select {
		case <-f.ctx.Done():
			return
		case event, ok := <-s.send:
			if !ok {
				return
			}

			payload, err := utils.Marshal(event)
			if err != nil {
				f.logger.Error("Failed to marshal fanout event", zap.Error(err))
				continue
			}

			s.conn.SetWriteDeadline(time.Now().Add(f.config.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				f.logger.Debug("Session write failed, dropping",
					zap.String("owner_id", s.ownerID),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(f.config.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *WebSocketFanout) readPump(s *session) {
	defer f.detach(s)

	s.conn.SetReadLimit(1024)
	s.conn.SetReadDeadline(time.Now().Add(f.config.PongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(f.config.PongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *WebSocketFanout) detach(s *session) {
	f.mu.Lock()
	_, attached := f.sessions[s]
	if attached {
		delete(f.sessions, s)
	}
	f.mu.Unlock()

	if !attached {
		return
	}

	for _, sub := range s.subs {
		f.bus.Unsubscribe(sub)
	}
	close(s.send)
	s.conn.Close()

	f.logger.Debug("Session detached", zap.String("owner_id", s.ownerID))
}

func (f *WebSocketFanout) Start() error {
	if !atomic.CompareAndSwapInt32(&f.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	f.logger.Info("WebSocket fanout started")
	return nil
}

func (f *WebSocketFanout) Stop() error {
	if !atomic.CompareAndSwapInt32(&f.running, 1, 0) {
		return types.ErrServerNotRunning
	}

	f.cancel()

	f.mu.Lock()
	sessions := make([]*session, 0, len(f.sessions))
	for s := range f.sessions {
		sessions = append(sessions, s)
	}
	f.mu.Unlock()

	for _, s := range sessions {
		f.detach(s)
	}

	f.logger.Info("WebSocket fanout stopped")
	return nil
}

func (f *WebSocketFanout) IsRunning() bool {
	return atomic.LoadInt32(&f.running) == 1
}
