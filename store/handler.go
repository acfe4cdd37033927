package store

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	"github.com/synqronlabs/wren"
)

// Handler is a wren.Handler that writes every accepted message to a Store.
// Use one Handler per session. It buffers the whole body in memory before
// Put, so the engine's MaxMessageSize bounds its memory use; a handler that
// streams chunks to disk avoids that.
type Handler struct {
	wren.NopHandler

	store  *Store
	logger *slog.Logger
	peer   string

	env  *wren.Envelope
	body bytes.Buffer
}

var (
	_ wren.Handler  = (*Handler)(nil)
	_ wren.Resetter = (*Handler)(nil)
)

// NewHandler returns a Handler for one session.
func NewHandler(st *Store, peer wren.PeerInfo, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	name := peer.Hostname
	if name == "" && peer.Addr != nil {
		name = peer.Addr.String()
	}
	return &Handler{store: st, logger: logger, peer: name}
}

func (h *Handler) OnMail(_ context.Context, from wren.Path, params wren.Params) wren.Disposition {
	h.reset()
	h.env = &wren.Envelope{From: from, Params: params, BodyType: wren.BodyType7Bit}
	if v, ok := params.Get("BODY"); ok {
		h.env.BodyType = wren.BodyType(strings.ToUpper(v))
	}
	if _, ok := params.Get("SMTPUTF8"); ok {
		h.env.SMTPUTF8 = true
	}
	if size, ok := params.Size(); ok {
		h.env.Size = size
	}
	return wren.Accept()
}

func (h *Handler) OnRcpt(_ context.Context, to wren.Path, params wren.Params) wren.Disposition {
	if h.env != nil {
		h.env.To = append(h.env.To, wren.Recipient{Path: to, Params: params})
	}
	return wren.Accept()
}

func (h *Handler) OnDataStart(context.Context) wren.Disposition {
	h.body.Reset()
	return wren.Accept()
}

func (h *Handler) OnDataChunk(_ context.Context, chunk []byte) {
	h.body.Write(chunk)
}

func (h *Handler) OnDataEnd(ctx context.Context) wren.Disposition {
	defer h.reset()
	id, err := h.store.Put(ctx, h.env, h.peer, h.body.Bytes())
	if err != nil {
		h.logger.Error("storing message failed", slog.Any("error", err))
		return wren.Fail(err)
	}
	return wren.AcceptWith(wren.CodeOK, wren.ESCSuccess, "OK queued as "+id)
}

func (h *Handler) OnReset(context.Context) {
	h.reset()
}

func (h *Handler) reset() {
	h.env = nil
	h.body.Reset()
}
