package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/dom/news-unpacked/internal/repository"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// RoomHandler exposes the room documents. The server stores what it is given;
// phase rules are enforced by the participants.
type RoomHandler struct {
	rooms repository.RoomStore
	log   zerolog.Logger
}

func NewRoomHandler(rooms repository.RoomStore, log zerolog.Logger) *RoomHandler {
	return &RoomHandler{
		rooms: rooms,
		log:   log.With().Str("handler", "rooms").Logger(),
	}
}

func roomID(r *http.Request) string {
	return domain.NormalizeRoomCode(chi.URLParam(r, "code"))
}

func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var room domain.Room
	if err := decodeBody(w, r, &room); err != nil {
		respondError(w, &h.log, err)
		return
	}
	room.ID = domain.NormalizeRoomCode(room.ID)
	if !domain.ValidRoomCode(room.ID) {
		respondError(w, &h.log, domain.ErrInvalidRoomCode)
		return
	}
	if !room.Status.Valid() {
		respondError(w, &h.log, fmt.Errorf("%w: status %q", domain.ErrValidation, room.Status))
		return
	}

	if err := h.rooms.CreateRoom(r.Context(), &room); err != nil {
		respondError(w, &h.log, err)
		return
	}

	h.log.Info().Str("room", room.ID).Int("players", len(room.Players)).Msg("room stored")
	respondJSON(w, http.StatusCreated, room)
}

func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.GetRoom(r.Context(), roomID(r))
	if err != nil {
		respondError(w, &h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, room)
}

// Replace overwrites the whole document. If-Match carries the version the
// caller read; a stale version answers 409.
func (h *RoomHandler) Replace(w http.ResponseWriter, r *http.Request) {
	expected, err := strconv.ParseInt(strings.Trim(r.Header.Get("If-Match"), `" `), 10, 64)
	if err != nil {
		respondError(w, &h.log, fmt.Errorf("%w: If-Match must carry the document version", domain.ErrValidation))
		return
	}

	var room domain.Room
	if err := decodeBody(w, r, &room); err != nil {
		respondError(w, &h.log, err)
		return
	}
	room.ID = roomID(r)
	if !room.Status.Valid() {
		respondError(w, &h.log, fmt.Errorf("%w: status %q", domain.ErrValidation, room.Status))
		return
	}

	if err := h.rooms.ReplaceRoom(r.Context(), &room, expected); err != nil {
		respondError(w, &h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandler) Patch(w http.ResponseWriter, r *http.Request) {
	var patch domain.RoomPatch
	if err := decodeBody(w, r, &patch); err != nil {
		respondError(w, &h.log, err)
		return
	}
	if err := patch.Validate(); err != nil {
		respondError(w, &h.log, err)
		return
	}

	if err := h.rooms.PatchRoom(r.Context(), roomID(r), patch); err != nil {
		respondError(w, &h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandler) AddTopic(w http.ResponseWriter, r *http.Request) {
	var topic domain.Topic
	if err := decodeBody(w, r, &topic); err != nil {
		respondError(w, &h.log, err)
		return
	}
	if topic.ID == "" {
		respondError(w, &h.log, fmt.Errorf("%w: topic id required", domain.ErrValidation))
		return
	}

	if err := h.rooms.AddTopic(r.Context(), roomID(r), topic); err != nil {
		respondError(w, &h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
