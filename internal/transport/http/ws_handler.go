package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"quiznight-service/internal/app"
	"quiznight-service/internal/domain"
)

var (
	errInvalidPayload    = errors.New("invalid message payload")
	errAlreadyJoined     = errors.New("socket already joined a team")
	errUnsupportedType   = errors.New("unsupported message type")
	errUnsupportedAction = errors.New("unsupported presenter action")
)

type WSHandler struct {
	service  *app.Service
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.Service) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	SessionCode string `json:"sessionCode"`
	TeamName    string `json:"teamName"`
}

type answerPayload struct {
	SessionCode string            `json:"sessionCode"`
	TeamID      string            `json:"teamId"`
	QuestionID  string            `json:"questionId"`
	Answer      domain.Submission `json:"answer"`
}

type presenterActionPayload struct {
	SessionCode string `json:"sessionCode"`
	Action      string `json:"action"`
	QuestionID  string `json:"questionId,omitempty"`
	TeamID      string `json:"teamId,omitempty"`
	Points      int    `json:"points,omitempty"`
	IsCorrect   bool   `json:"isCorrect,omitempty"`
}

type createSessionRequest struct {
	Name string `json:"name"`
}

// ServeCreateSession is the narrow configuration surface: it allocates a
// session and returns its join code. Everything else flows over the socket.
func (h *WSHandler) ServeCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sess, err := h.service.CreateSession(r.Context(), req.Name)
	if err != nil {
		log.Printf("create session: %v", err)
		http.Error(w, "could not create session", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sess)
}

// ServeWS upgrades HTTP requests to websockets and wires them into the
// session orchestrator. Presenters attach immediately via ?role=presenter;
// team sockets announce themselves with a join_session message.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	role := r.URL.Query().Get("role")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var client *app.Client
	if role == string(app.RolePresenter) {
		client, err = h.service.AttachPresenter(r.Context(), code)
		if err != nil {
			_ = conn.WriteJSON(errorEvent(err))
			return
		}
	}

	send := make(chan domain.Event, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	forwarderDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for ev := range send {
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	// forward pipes room broadcasts into this socket's writer. When the room
	// tears down (session ended) the events channel closes and the
	// connection is closed to unblock the reader.
	forward := func(c *app.Client) {
		defer close(forwarderDone)
		for {
			select {
			case ev, ok := <-c.Events():
				if !ok {
					_ = conn.Close()
					return
				}
				select {
				case send <- ev:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}

	if client != nil {
		go forward(client)
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}

		switch inbound.Type {
		case "join_session":
			var payload joinPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.TeamName == "" {
				send <- errorEvent(errInvalidPayload)
				continue
			}
			if client != nil {
				send <- errorEvent(errAlreadyJoined)
				continue
			}
			joined, _, err := h.service.Join(r.Context(), code, payload.TeamName)
			if err != nil {
				send <- errorEvent(err)
				continue
			}
			client = joined
			go forward(client)

		case "submit_answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorEvent(errInvalidPayload)
				continue
			}
			if client == nil {
				send <- errorEvent(domain.ErrTeamNotFound)
				continue
			}
			if err := h.service.SubmitAnswer(r.Context(), code, client, payload.QuestionID, payload.Answer); err != nil {
				send <- errorEvent(err)
			}

		case "presenter_action":
			var payload presenterActionPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorEvent(errInvalidPayload)
				continue
			}
			if client == nil {
				send <- errorEvent(domain.ErrUnauthorizedAction)
				continue
			}
			if err := h.dispatchPresenterAction(r, code, client, payload); err != nil {
				send <- errorEvent(err)
			}

		default:
			send <- errorEvent(errUnsupportedType)
		}
	}

	close(closeSignals)
	if client != nil {
		h.service.Leave(code, client)
		<-forwarderDone
	}
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatchPresenterAction(r *http.Request, code string, client *app.Client, payload presenterActionPayload) error {
	ctx := r.Context()
	switch payload.Action {
	case "start_question":
		return h.service.StartQuestion(ctx, code, client, payload.QuestionID)
	case "end_question":
		return h.service.EndQuestion(ctx, code, client)
	case "show_review":
		return h.service.ShowReview(ctx, code, client, payload.QuestionID)
	case "score_answer":
		return h.service.ScoreAnswer(ctx, code, client, payload.QuestionID, payload.TeamID, payload.Points, payload.IsCorrect)
	case "show_leaderboard":
		return h.service.ShowLeaderboard(ctx, code, client)
	case "next_round":
		return h.service.NextRound(ctx, code, client)
	case "end_session":
		return h.service.EndSession(ctx, code, client)
	default:
		return errUnsupportedAction
	}
}

func errorEvent(err error) domain.Event {
	return domain.Event{Type: domain.EvtError, Payload: domain.ErrorPayload{Message: err.Error()}}
}
