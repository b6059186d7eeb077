// Thisorthat Game Server
//
// One global "this or that" session per process. Players connect over a
// websocket, pick a display name, and the first to do so becomes admin.
// The game runs up to 8 levels; each level presents a randomly drawn
// pair of options from levels/level<N>.json, every active player picks
// one, and the collated answers are revealed before the session moves on.
//
// Features:
// - Single websocket endpoint at /ws; cross-origin connections accepted
// - First named player becomes admin; later mid-game joiners spectate
// - Admin controls: minimum player count, auto-start, auto-next,
//   manual start and manual level advancement
// - 30s answer window per level, 10s auto-advance delay after reveals
// - Quorum enforcement: the game is cancelled if active players drop
//   below the minimum mid-game
// - Admin role migrates to the earliest surviving player on disconnect
// - In-browser QR endpoint to share the server address, backed by go-qrcode

package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection. Its handle doubles as the
// participant identity for the duration of the connection.
type Client struct {
	conn   *websocket.Conn
	send   chan serverEnvelope
	handle string
}

func (c *Client) readPump(s *Session) {
	defer func() {
		s.inbox <- disconnect{client: c}
		_ = c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env clientEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		cmd := parseCommand(c, env)
		if cmd == nil {
			continue
		}

		s.inbox <- cmd
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// parseCommand validates an inbound envelope and builds the matching
// engine command. Unknown events and undecodable payloads yield nil
// and are dropped without reply.
func parseCommand(c *Client, env clientEnvelope) any {
	switch env.Event {
	case evtSendName:
		name, avatar, ok := decodeName(env.Data)
		if !ok {
			return nil
		}
		return sendName{client: c, name: name, avatar: avatar}
	case evtSetMinPlayers:
		return setMinPlayers{client: c, value: decodeMinPlayers(env.Data)}
	case evtToggleAutoStart:
		flag, ok := decodeBool(env.Data)
		if !ok {
			return nil
		}
		return toggleAutoStart{client: c, flag: flag}
	case evtToggleAutoNext:
		flag, ok := decodeBool(env.Data)
		if !ok {
			return nil
		}
		return toggleAutoNext{client: c, flag: flag}
	case evtStartGame:
		return startGame{client: c}
	case evtSubmitSelection:
		choice, ok := decodeString(env.Data)
		if !ok {
			return nil
		}
		return submitSelection{client: c, choice: choice}
	case evtNextLevel:
		return nextLevel{client: c}
	default:
		return nil
	}
}

func serveWS(cfg *Config, s *Session) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		logf(cfg, "GAMES: Upgraded websocket connection from %s", realIP(r))

		client := &Client{
			conn:   conn,
			send:   make(chan serverEnvelope, 16),
			handle: uuid.NewString(),
		}

		s.inbox <- connect{client: client}

		go client.writePump()
		client.readPump(s)
	}
}

// qrHandler generates a PNG QR code for the lobby URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at .../qr; strip the trailing "/qr" to get the lobby URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")
	if path == "" {
		path = "/"
	}

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerGame sets up the session and its routes:
//   - /ws → websocket endpoint for the single global session
//   - /qr → PNG QR code for the lobby URL
func registerGame(cfg *Config, mux *httprouter.Router) {
	session := newSession(cfg, newCatalogue(cfg.levels))
	go session.Run()

	mux.GET(cfg.prefix+"/ws", serveWS(cfg, session))

	mux.GET(cfg.prefix+"/qr", qrHandler)
}
