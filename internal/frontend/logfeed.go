package frontend

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/modforge/internal/logger"
	"github.com/user/modforge/internal/runlog"
)

const feedInterval = time.Second

// LogFeed streams the run log over a websocket: the full text on connect,
// then appended lines as the run progresses. A shrinking log means a new run
// reset it, so the feed starts over from the top.
type LogFeed struct {
	log      *runlog.Log
	upgrader websocket.Upgrader
}

func NewLogFeed(log *runlog.Log) *LogFeed {
	return &LogFeed{
		log: log,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
}

func (f *LogFeed) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Could not upgrade log feed connection")
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(feedInterval)
	defer ticker.Stop()

	sent := 0
	for {
		snapshot := f.log.Snapshot()
		if len(snapshot) < sent {
			sent = 0
		}
		if len(snapshot) > sent {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(snapshot[sent:])); err != nil {
				return
			}
			sent = len(snapshot)
		}

		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
