package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	reverb "github.com/minicodemonkey/reverb-go"
	"github.com/minicodemonkey/reverb-go/transport/wsconn"
)

// decodeHandlerData round-trips an already-decoded Envelope.Data value
// into dest, the same approach the core package uses internally to let
// handlers bind typed payloads instead of raw maps.
func decodeHandlerData(data interface{}, dest interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// captureRequest is the payload of a client-capture event, sent by another
// peer on the device's presence channel (e.g. the controlling
// application, itself connected as a different socket).
type captureRequest struct {
	Script string   `json:"script"`
	Args   []string `json:"args"`
}

// Service wires a reverb.Client to a capturer and a callback batcher: it
// is the device-listener's top-level collaborator, analogous to the
// teacher's engine.Engine gluing loop.Manager to its consumers.
type Service struct {
	cfg      *Config
	client   *reverb.Client
	capturer *capturer
	batcher  *callbackBatcher
	watcher  *scriptWatcher

	dashboardUpdates chan dashboardMsg
	capturing        string
}

// New builds a Service from cfg, applying listener defaults and
// constructing the core client with the default gorilla/websocket
// transport.
func New(cfg *Config) (*Service, error) {
	cfg = cfg.withDefaults()

	if cfg.AppKey == "" || cfg.AppSecret == "" || cfg.Host == "" {
		return nil, fmt.Errorf("reverb-device: app_key, app_secret, and host are required")
	}
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("reverb-device: device_id is required")
	}
	if cfg.CallbackURL == "" {
		return nil, fmt.Errorf("reverb-device: callback_url is required")
	}

	client, err := reverb.New(reverb.Config{
		AppKey:    cfg.AppKey,
		AppSecret: cfg.AppSecret,
		Host:      cfg.Host,
		Port:      cfg.Port,
		Scheme:    cfg.Scheme,
		Transport: wsconn.New(),
	})
	if err != nil {
		return nil, fmt.Errorf("reverb-device: building client: %w", err)
	}

	s := &Service{
		cfg:      cfg,
		client:   client,
		capturer: newCapturer(cfg),
		batcher:  newCallbackBatcher(cfg),
	}

	watcher, err := newScriptWatcher(cfg.ScriptsDir, func(name string) {
		log.Printf("reverb-device: noticed change to capture script %q", name)
	})
	if err != nil {
		log.Printf("reverb-device: script watcher disabled: %v", err)
	} else {
		s.watcher = watcher
	}

	return s, nil
}

// Dashboard returns a Dashboard wired to this Service's state, for a caller
// that wants to run tea.NewProgram(svc.Dashboard(), tea.WithAltScreen())
// alongside Run. Calling it more than once is a programmer error since the
// update channel has a single consumer.
func (s *Service) Dashboard() *Dashboard {
	s.dashboardUpdates = make(chan dashboardMsg, 8)
	return NewDashboard(s.dashboardUpdates)
}

func (s *Service) publishSnapshot(lastEvent string) {
	if s.dashboardUpdates == nil {
		return
	}
	ch, _ := s.client.Channel(s.cfg.DeviceChannel())
	var members []string
	if ch != nil {
		for id := range ch.Members() {
			members = append(members, id)
		}
	}

	snapshot := dashboardMsg{
		connected: s.client.IsConnected(),
		socketID:  s.client.SocketID(),
		channels:  s.client.Channels(),
		members:   members,
		lastEvent: lastEvent,
		capturing: s.capturing,
	}

	select {
	case s.dashboardUpdates <- snapshot:
	default:
	}
}

// Run connects the client, subscribes to the device's presence channel,
// binds the capture handler, and blocks until ctx is done or the
// connection is permanently closed.
func (s *Service) Run(ctx context.Context) error {
	if err := s.client.Connect(ctx); err != nil {
		return fmt.Errorf("reverb-device: connecting: %w", err)
	}
	defer s.client.Disconnect()

	go s.batcher.Run(ctx)
	defer s.batcher.Stop(context.Background())

	if s.watcher != nil {
		go s.watcher.Run(ctx)
	}

	userData := map[string]interface{}{
		"user_id":   s.cfg.DeviceID,
		"user_info": map[string]interface{}{"device_id": s.cfg.DeviceID},
	}
	if _, err := s.client.Subscribe(ctx, s.cfg.DeviceChannel(), userData); err != nil {
		return fmt.Errorf("reverb-device: subscribing to %s: %w", s.cfg.DeviceChannel(), err)
	}

	s.client.Bind("client-capture", s.handleCapture(ctx))

	s.client.Bind("disconnected", func(event string, data interface{}, channel string) {
		log.Printf("reverb-device: disconnected: %v", data)
		s.publishSnapshot("disconnected")
	})
	s.client.Bind("pusher_internal:member_added", func(event string, data interface{}, channel string) {
		s.publishSnapshot("member_added on " + channel)
	})
	s.client.Bind("pusher_internal:member_removed", func(event string, data interface{}, channel string) {
		s.publishSnapshot("member_removed on " + channel)
	})

	s.publishSnapshot("connected")

	return s.client.Listen(ctx)
}

func (s *Service) handleCapture(ctx context.Context) reverb.Handler {
	return func(event string, data interface{}, channel string) {
		var req captureRequest
		if err := decodeHandlerData(data, &req); err != nil {
			log.Printf("reverb-device: malformed client-capture payload: %v", err)
			return
		}
		if req.Script == "" {
			log.Printf("reverb-device: client-capture payload missing script name")
			return
		}

		s.capturing = req.Script
		s.publishSnapshot("capture started: " + req.Script)

		result := s.capturer.run(ctx, req.Script, req.Args...)
		s.batcher.Enqueue(result)

		s.capturing = ""
		s.publishSnapshot("capture finished: " + req.Script)
	}
}
