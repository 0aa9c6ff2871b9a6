package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tariel-x/livedesk/internal/bus"
	"github.com/tariel-x/livedesk/internal/clock"
	"github.com/tariel-x/livedesk/internal/config"
	"github.com/tariel-x/livedesk/internal/experts"
	"github.com/tariel-x/livedesk/internal/inbox"
	"github.com/tariel-x/livedesk/internal/push"
	"github.com/tariel-x/livedesk/internal/session"
	"github.com/tariel-x/livedesk/internal/store"
)

// Deps are the components the API is served from. Push may be nil.
type Deps struct {
	Config     *config.Config
	Store      store.Store
	Bus        bus.Bus
	Directory  *experts.Directory
	Scheduler  *clock.Scheduler
	Originator *session.Originator
	Desk       *inbox.Receiver
	Push       *push.Relay
	Logger     *zap.Logger
}

type Handlers struct {
	config     *config.Config
	store      store.Store
	bus        bus.Bus
	directory  *experts.Directory
	scheduler  *clock.Scheduler
	originator *session.Originator
	desk       *inbox.Receiver
	push       *push.Relay
	log        *zap.Logger

	wsHub      *WSHub
	wsUpgrader websocket.Upgrader
	nowFn      func() time.Time

	stopOnce  sync.Once
	cancelBus func()
}

func New(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Bus == nil {
		d.Bus = bus.Noop{}
	}
	if d.Directory == nil {
		d.Directory = experts.Default()
	}
	nowFn := time.Now
	if d.Scheduler != nil {
		nowFn = d.Scheduler.Now
	}

	h := &Handlers{
		config:     d.Config,
		store:      d.Store,
		bus:        d.Bus,
		directory:  d.Directory,
		scheduler:  d.Scheduler,
		originator: d.Originator,
		desk:       d.Desk,
		push:       d.Push,
		log:        d.Logger,
		wsHub:      NewWSHub(),
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		nowFn: nowFn,
	}
	h.cancelBus = h.bus.Subscribe(h.relayStatus)
	return h
}

// Register mounts the API on the /api group.
func (h *Handlers) Register(api *gin.RouterGroup) {
	api.GET("/client-config", h.GetClientConfig)

	api.GET("/experts", h.ListExperts)
	api.GET("/experts/:id", h.GetExpert)

	api.POST("/sessions", h.CreateSession)
	api.GET("/chat/:id", h.GetChat)
	api.GET("/chat/:id/ws", h.HandleChatWebSocket)

	api.GET("/inbox", h.ListInbox)
	api.GET("/inbox/summary", h.GetInboxSummary)
	api.POST("/inbox/:id/accept", h.AcceptInvite)
	api.POST("/inbox/:id/decline", h.DeclineInvite)
	api.POST("/inbox/:id/read", h.MarkInviteRead)
	api.GET("/inbox/ws", h.HandleInboxWebSocket)

	api.GET("/push/vapid-public-key", h.GetVAPIDPublicKey)
	api.POST("/push/subscribe", h.SubscribePush)
	api.POST("/push/unsubscribe", h.UnsubscribePush)
}

// Close disconnects every websocket client and stops relaying bus messages.
func (h *Handlers) Close() {
	h.stopOnce.Do(func() {
		if h.cancelBus != nil {
			h.cancelBus()
		}
		h.wsHub.CloseAll()
	})
}
