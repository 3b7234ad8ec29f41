package handlers

import (
	"net/http"
	"strings"

	"github.com/dom/news-unpacked/internal/domain"
	"github.com/rs/zerolog"
	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 256

// QRHandler renders the join link of a room so players at the table can scan
// it instead of typing the code.
type QRHandler struct {
	publicURL string
	log       zerolog.Logger
}

func NewQRHandler(publicURL string, log zerolog.Logger) *QRHandler {
	return &QRHandler{
		publicURL: strings.TrimRight(publicURL, "/"),
		log:       log.With().Str("handler", "qr").Logger(),
	}
}

// JoinURL is the link encoded in the room's QR code.
func (h *QRHandler) JoinURL(code string) string {
	return h.publicURL + "/?room=" + code
}

func (h *QRHandler) Room(w http.ResponseWriter, r *http.Request) {
	code := roomID(r)
	if !domain.ValidRoomCode(code) {
		respondError(w, &h.log, domain.ErrInvalidRoomCode)
		return
	}

	png, err := qrcode.Encode(h.JoinURL(code), qrcode.Medium, qrSize)
	if err != nil {
		respondError(w, &h.log, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(png)
}
