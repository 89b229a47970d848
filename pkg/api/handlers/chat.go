package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"earnhub/pkg/logger"
	"earnhub/pkg/models"
	"earnhub/pkg/security"
	"earnhub/pkg/store"
	"earnhub/pkg/telemetry"
	"earnhub/pkg/utils"
	"earnhub/pkg/validation"
)

// RegisterChat registers the room stream and sanction endpoints.
func RegisterChat(r *mux.Router) {
	r.HandleFunc("/chat/messages", listChatMessages).Methods(http.MethodGet)
	r.HandleFunc("/chat/messages", postChatMessage).Methods(http.MethodPost)
	r.HandleFunc("/chat/sanction", getSanction).Methods(http.MethodGet)
}

func listChatMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := store.ListMessages(room)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		if lim, err := strconv.Atoi(limStr); err == nil && lim >= 0 && lim < len(msgs) {
			msgs = msgs[len(msgs)-lim:]
		}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Room     string               `json:"room"`
		Messages []models.ChatMessage `json:"messages"`
	}{Room: room, Messages: msgs})
}

type chatPayload struct {
	Kind     string `json:"kind"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	FileURL  string `json:"file_url,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

func postChatMessage(w http.ResponseWriter, r *http.Request) {
	author, status, msg := security.ResolveAuthorFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	user, err := store.GetUser(author)
	if errors.Is(err, store.ErrNotFound) {
		utils.JSONError(w, http.StatusNotFound, "unknown user")
		return
	}
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if sanction, active, err := guard.IsSanctioned(user.ID); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	} else if active {
		_ = utils.JSONWrite(w, http.StatusForbidden, struct {
			Error    string          `json:"error"`
			Sanction models.Sanction `json:"sanction"`
		}{Error: "chat sanction active", Sanction: sanction})
		return
	}

	var p chatPayload
	if err := utils.DecodeJSON(r, &p); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if p.Kind == "" {
		p.Kind = string(models.KindText)
	}
	m := models.ChatMessage{
		ID:         utils.GenID(),
		Room:       room,
		AuthorID:   user.ID,
		AuthorName: user.Name,
		Role:       user.Role,
		Kind:       models.MessageKind(p.Kind),
		Origin:     models.OriginUser,
		Text:       p.Text,
		ImageURL:   p.ImageURL,
		FileURL:    p.FileURL,
		FileName:   p.FileName,
		TS:         time.Now().UTC().UnixNano(),
	}
	if err := validation.ValidateMessage(m); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if m.Kind == models.KindText {
		verdict, err := guard.Evaluate(user, m.Text)
		if err != nil {
			// A blocked verdict stands even when its persistence failed;
			// only an unreadable record aborts the request.
			logger.Error("moderation_evaluate_failed", "user", user.ID, "error", err)
			if !verdict.Blocked {
				utils.JSONError(w, http.StatusInternalServerError, "moderation state unavailable")
				return
			}
		}
		if verdict.Blocked {
			_ = utils.JSONWrite(w, http.StatusUnprocessableEntity, struct {
				Error    string          `json:"error"`
				Reason   string          `json:"reason,omitempty"`
				Warnings int             `json:"warnings"`
				Sanction models.Sanction `json:"sanction"`
			}{
				Error:    "message blocked by moderation",
				Reason:   verdict.Reason,
				Warnings: verdict.Record.WarningCount,
				Sanction: verdict.Record.Sanction,
			})
			return
		}
	}

	if err := store.SaveMessage(m); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	telemetry.MessagesTotal.Inc()
	logger.Info("message_created", "room", room, "id", m.ID, "author", m.AuthorID)
	_ = utils.JSONWrite(w, http.StatusCreated, m)
}

func getSanction(w http.ResponseWriter, r *http.Request) {
	author, status, msg := security.ResolveAuthorFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	sanction, active, err := guard.IsSanctioned(author)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Active   bool            `json:"active"`
		Sanction models.Sanction `json:"sanction"`
	}{Active: active, Sanction: sanction})
}
