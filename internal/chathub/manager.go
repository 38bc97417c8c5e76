package chathub

import (
	"channels/backend/internal/config"
	"channels/backend/internal/conversation"
	"channels/backend/internal/memstore"
	"channels/backend/internal/metrics"
	"channels/backend/internal/models"
	"channels/backend/internal/presence"
	"channels/backend/internal/pubsub"
	"channels/backend/internal/queue"
	"channels/backend/internal/storage"
	"channels/backend/internal/worker"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/c-pro/geche"
	"go.uber.org/zap"
)

// Cache is the bounded recent-message list kept per channel.
type Cache interface {
	Append(ctx context.Context, m *models.Message) error
	Recent(ctx context.Context, channelID string, limit int) ([]models.Message, error)
	Drop(ctx context.Context, channelID string) error
}

// Persister stores a message without going through the queue.
type Persister interface {
	Persist(ctx context.Context, m *models.Message) (worker.Result, error)
}

type Deps struct {
	Storage   storage.Storage
	Queue     queue.Queue
	Persister Persister
	Cache     Cache
	Fallback  *memstore.Store
	Bus       pubsub.Bus
	Presence  *presence.Registry
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

// ManagerService owns every live connection and the rooms they joined.
type ManagerService struct {
	Storage   storage.Storage
	Queue     queue.Queue
	Persister Persister
	Cache     Cache
	Fallback  *memstore.Store
	Bus       pubsub.Bus
	Presence  *presence.Registry

	RegisterCh   chan Client
	UnregisterCh chan Client

	log        *zap.Logger
	metrics    *metrics.Metrics
	membership geche.Geche[string, bool]
	kinds      geche.Geche[string, bool]

	mux      sync.RWMutex
	clients  map[string]Client
	rooms    map[string]map[string]Client
	memberOf map[string]map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func NewManagerService(d Deps) *ManagerService {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Fallback == nil {
		d.Fallback = memstore.New(config.CacheLimit)
	}
	if d.Cache == nil {
		d.Cache = d.Fallback
	}
	if d.Presence == nil {
		d.Presence = presence.NewRegistry()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ManagerService{
		Storage:      d.Storage,
		Queue:        d.Queue,
		Persister:    d.Persister,
		Cache:        d.Cache,
		Fallback:     d.Fallback,
		Bus:          d.Bus,
		Presence:     d.Presence,
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		log:          d.Log.Named("hub"),
		metrics:      d.Metrics,
		membership:   geche.NewMapTTLCache[string, bool](ctx, config.MembershipCacheTTL, config.MembershipCacheTTL),
		kinds:        geche.NewMapTTLCache[string, bool](ctx, config.MembershipCacheTTL, config.MembershipCacheTTL),
		clients:      make(map[string]Client),
		rooms:        make(map[string]map[string]Client),
		memberOf:     make(map[string]map[string]struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Run serves register and unregister requests until ctx is done, then closes
// every connection.
func (m *ManagerService) Run(ctx context.Context) {
	defer m.shutdown()
	for {
		select {
		case c := <-m.RegisterCh:
			m.Register(c)
		case c := <-m.UnregisterCh:
			m.Unregister(c)
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *ManagerService) shutdown() {
	m.cancel()
	m.mux.Lock()
	clients := make([]Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = make(map[string]Client)
	m.rooms = make(map[string]map[string]Client)
	m.memberOf = make(map[string]map[string]struct{})
	m.mux.Unlock()
	for _, c := range clients {
		c.Close()
	}
}

// Leave asks Run to unregister c. It never blocks after shutdown.
func (m *ManagerService) Leave(c Client) {
	select {
	case m.UnregisterCh <- c:
	case <-m.ctx.Done():
	}
}

func (m *ManagerService) Register(c Client) {
	m.mux.Lock()
	m.clients[c.ID()] = c
	m.mux.Unlock()
	m.metrics.SocketOpened()

	userID := c.UserID()
	m.joinConn(c, userRoom(userID))
	if m.Presence.Connect(userID, c.ID()) {
		rec, _ := m.Presence.Get(userID)
		m.Broadcast(models.EventUserOnline, models.PresenceEvent{UserID: userID, Status: rec.Status, LastSeen: rec.LastSeen})
	}
	m.metrics.SetOnlineUsers(m.Presence.Count())

	c.Send(models.ServerEvent{Event: models.EventUserConnected, Data: map[string]any{
		"userId":      userID,
		"userName":    c.UserName(),
		"onlineUsers": m.Presence.OnlineUsers(),
	}})
	m.log.Debug("client registered", zap.String("conn_id", c.ID()), zap.String("user_id", userID))

	go m.attachUser(c, userID, c.UserName())
}

// attachUser makes sure the user row exists and joins the connection to the
// rooms of every channel the user belongs to.
func (m *ManagerService) attachUser(c Client, userID, name string) {
	if m.Storage == nil {
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
	defer cancel()
	if err := m.Storage.EnsureUser(ctx, userID, name); err != nil {
		m.log.Warn("ensure user failed", zap.String("user_id", userID), zap.Error(err))
	}
	ids, err := m.Storage.ChannelsForUser(ctx, userID)
	if err != nil {
		m.log.Warn("load user channels failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	for _, id := range ids {
		if !m.joinConnAs(c, channelRoom(id), userID) {
			m.log.Debug("connection rebound during attach", zap.String("conn_id", c.ID()), zap.String("user_id", userID))
			return
		}
	}
}

func (m *ManagerService) Unregister(c Client) {
	m.mux.Lock()
	if _, ok := m.clients[c.ID()]; !ok {
		m.mux.Unlock()
		return
	}
	rooms := make([]string, 0, len(m.memberOf[c.ID()]))
	for r := range m.memberOf[c.ID()] {
		rooms = append(rooms, r)
	}
	m.mux.Unlock()

	userID := c.UserID()
	for _, r := range rooms {
		if id, ok := typingTarget(r); ok {
			m.EmitToRoom(r, models.EventStopTyping, models.TypingEvent{ConversationID: id, UserID: userID}, c.ID())
		}
	}

	m.mux.Lock()
	for _, r := range rooms {
		m.leaveLocked(c.ID(), r)
	}
	delete(m.memberOf, c.ID())
	delete(m.clients, c.ID())
	m.mux.Unlock()
	c.Close()
	m.metrics.SocketClosed()

	if m.Presence.Disconnect(userID, c.ID()) {
		rec, _ := m.Presence.Get(userID)
		m.Broadcast(models.EventUserOffline, models.PresenceEvent{UserID: userID, Status: models.StatusOffline, LastSeen: rec.LastSeen})
		if m.Storage != nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := m.Storage.TouchUser(ctx, userID, models.StatusOffline); err != nil {
					m.log.Warn("touch user failed", zap.String("user_id", userID), zap.Error(err))
				}
			}()
		}
	}
	m.metrics.SetOnlineUsers(m.Presence.Count())
	m.log.Debug("client unregistered", zap.String("conn_id", c.ID()), zap.String("user_id", userID))
}

// ClientCount is the number of open connections.
func (m *ManagerService) ClientCount() int {
	m.mux.RLock()
	defer m.mux.RUnlock()
	return len(m.clients)
}

func (m *ManagerService) InRoom(connID, room string) bool {
	m.mux.RLock()
	defer m.mux.RUnlock()
	_, ok := m.rooms[room][connID]
	return ok
}

func (m *ManagerService) joinConn(c Client, room string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.joinLocked(c, room)
}

// joinConnAs joins c to room only while c is still bound to userID. It
// reports false once the connection belongs to someone else.
func (m *ManagerService) joinConnAs(c Client, room, userID string) bool {
	m.mux.Lock()
	defer m.mux.Unlock()
	if c.UserID() != userID {
		return false
	}
	m.joinLocked(c, room)
	return true
}

func (m *ManagerService) joinLocked(c Client, room string) {
	if _, ok := m.clients[c.ID()]; !ok {
		return
	}
	if m.rooms[room] == nil {
		m.rooms[room] = make(map[string]Client)
	}
	m.rooms[room][c.ID()] = c
	if m.memberOf[c.ID()] == nil {
		m.memberOf[c.ID()] = make(map[string]struct{})
	}
	m.memberOf[c.ID()][room] = struct{}{}
}

func (m *ManagerService) leaveLocked(connID, room string) {
	if members, ok := m.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(m.rooms, room)
		}
	}
	if set, ok := m.memberOf[connID]; ok {
		delete(set, room)
	}
}

// joinUser adds every connection of userID to room.
func (m *ManagerService) joinUser(userID, room string) {
	for _, c := range m.roomClients(userRoom(userID), "") {
		m.joinConn(c, room)
	}
}

// closeRoom removes everyone from room.
func (m *ManagerService) closeRoom(room string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	for connID := range m.rooms[room] {
		if set, ok := m.memberOf[connID]; ok {
			delete(set, room)
		}
	}
	delete(m.rooms, room)
}

func (m *ManagerService) roomClients(room, except string) []Client {
	m.mux.RLock()
	defer m.mux.RUnlock()
	out := make([]Client, 0, len(m.rooms[room]))
	for id, c := range m.rooms[room] {
		if id != except {
			out = append(out, c)
		}
	}
	return out
}

// EmitToRoom sends to every connection in room except the one with id except.
func (m *ManagerService) EmitToRoom(room, event string, data any, except string) {
	evt := models.ServerEvent{Event: event, Data: data}
	for _, c := range m.roomClients(room, except) {
		if !c.Send(evt) {
			m.log.Debug("dropped event for slow client", zap.String("event", event), zap.String("conn_id", c.ID()))
		}
	}
}

func (m *ManagerService) EmitToUser(userID, event string, data any) {
	m.EmitToRoom(userRoom(userID), event, data, "")
}

func (m *ManagerService) Broadcast(event string, data any) {
	m.mux.RLock()
	clients := make([]Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mux.RUnlock()
	evt := models.ServerEvent{Event: event, Data: data}
	for _, c := range clients {
		c.Send(evt)
	}
}

// Dispatch handles evt on its own goroutine. Reads stay ordered per
// connection while handlers run concurrently.
func (m *ManagerService) Dispatch(c Client, evt models.ClientEvent) {
	go m.HandleEvent(m.ctx, c, evt)
}

// HandleEvent routes one inbound event. A failing or panicking handler only
// affects its own event.
func (m *ManagerService) HandleEvent(ctx context.Context, c Client, evt models.ClientEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("event handler panicked",
				zap.String("event", evt.Event),
				zap.String("user_id", c.UserID()),
				zap.Any("panic", r),
			)
			c.Send(models.ServerEvent{Event: models.EventError, Data: models.ErrorEvent{
				Error:   evt.Event,
				Details: "internal error",
			}})
		}
	}()

	switch evt.Event {
	case models.EventUserConnect:
		m.handleUserConnect(ctx, c, evt.Data)
	case models.EventMessageSend:
		m.handleDirectSend(ctx, c, evt.Data)
	case models.EventDirectHistory:
		m.handleDirectHistory(ctx, c, evt.Data)
	case models.EventMessageRead:
		m.handleDirectRead(ctx, c, evt.Data)
	case models.EventGroupCreate:
		m.handleGroupCreate(ctx, c, evt.Data)
	case models.EventGroupMessageSend:
		m.handleGroupSend(ctx, c, evt.Data)
	case models.EventGroupHistory:
		m.handleGroupHistory(ctx, c, evt.Data)
	case models.EventGroupRead:
		m.handleGroupRead(ctx, c, evt.Data)
	case models.EventGroupDelete:
		m.handleGroupDelete(ctx, c, evt.Data)
	case models.EventTypingStart, models.EventTypingStop:
		m.handleTyping(ctx, c, evt.Event, evt.Data)
	case models.EventStatusUpdate:
		m.handleStatusUpdate(c, evt.Data)
	case models.EventRoomJoin:
		m.handleRoomJoin(ctx, c, evt.Data)
	default:
		c.Send(models.ServerEvent{Event: models.EventError, Data: models.ErrorEvent{
			Error:   evt.Event,
			Details: "unknown event",
		}})
	}
}

// isMember checks the participant table, remembering positive answers briefly.
func (m *ManagerService) isMember(ctx context.Context, channelID, userID string) error {
	key := channelID + "|" + userID
	if ok, err := m.membership.Get(key); err == nil && ok {
		return nil
	}
	if _, err := m.Storage.GetParticipant(ctx, channelID, userID); err != nil {
		return err
	}
	m.membership.Set(key, true)
	return nil
}

func (m *ManagerService) forgetMembership(channelID string, userIDs []string) {
	for _, u := range userIDs {
		_ = m.membership.Del(channelID + "|" + u)
	}
}

// requireKind fails unless channelID is a group when group is set, or a
// direct channel otherwise.
func (m *ManagerService) requireKind(ctx context.Context, channelID string, group bool) error {
	isGroup, err := m.kinds.Get(channelID)
	if err != nil {
		ch, err := m.Storage.GetChannel(ctx, channelID)
		if err != nil {
			return err
		}
		isGroup = ch.IsGroup
		m.kinds.Set(channelID, isGroup)
	}
	switch {
	case group && !isGroup:
		return fmt.Errorf("%w: channel %s is not a group", models.ErrInvalidArgument, channelID)
	case !group && isGroup:
		return fmt.Errorf("%w: channel %s is a group", models.ErrInvalidArgument, channelID)
	}
	return nil
}

func (m *ManagerService) forgetKind(channelID string) {
	_ = m.kinds.Del(channelID)
}

func decode[T any](raw json.RawMessage) (*T, error) {
	v := new(T)
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}
	return v, nil
}

func userRoom(userID string) string       { return "user:" + userID }
func channelRoom(channelID string) string { return "channel:" + channelID }

// typingTarget maps a channel or conversation room back to the id typing
// events carry for it.
func typingTarget(room string) (string, bool) {
	for _, prefix := range []string{"channel:", conversation.RoomPrefix} {
		if id, ok := strings.CutPrefix(room, prefix); ok {
			return id, id != ""
		}
	}
	return "", false
}
