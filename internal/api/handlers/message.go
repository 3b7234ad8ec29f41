package handlers

import (
	"fmt"
	"net/http"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/repository"
	"github.com/rs/zerolog"
)

type MessageHandler struct {
	messages repository.MessageStore
	log      zerolog.Logger
}

func NewMessageHandler(messages repository.MessageStore, log zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		log:      log.With().Str("handler", "messages").Logger(),
	}
}

// List returns the whole log in createdAt order.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	messages, err := h.messages.ListMessages(r.Context(), roomID(r))
	if err != nil {
		respondError(w, &h.log, err)
		return
	}
	if messages == nil {
		messages = []domain.ChatMessage{}
	}
	respondJSON(w, http.StatusOK, messages)
}

// Append stores a message; createdAt is always assigned here.
func (h *MessageHandler) Append(w http.ResponseWriter, r *http.Request) {
	var msg domain.ChatMessage
	if err := decodeBody(w, r, &msg); err != nil {
		respondError(w, &h.log, err)
		return
	}
	if msg.ID == "" {
		respondError(w, &h.log, fmt.Errorf("%w: message id required", domain.ErrValidation))
		return
	}
	if msg.Text == "" {
		respondError(w, &h.log, domain.ErrEmptyText)
		return
	}

	stored, err := h.messages.AppendMessage(r.Context(), roomID(r), msg)
	if err != nil {
		respondError(w, &h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, stored)
}
