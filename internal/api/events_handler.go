package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/smolenkov/conveyor/internal/events"
)

// StreamRunEvents отдаёт события run через Server-Sent Events.
// GET /api/v1/runs/{id}/events
//
// Поток закрывается после run.finished или при отключении клиента.
// Если run уже завершён, клиент сразу получает терминальное событие.
func (h *Handler) StreamRunEvents(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, ErrCodeInternalError, "streaming is not supported")
		return
	}

	// Подписка до проверки статуса, чтобы не потерять события между
	// снимком run и началом потока.
	stream := make(chan events.Event, 64)
	unsubscribe := h.engine.Bus().Subscribe(func(ev events.Event) {
		if ev.RunID != runID && ev.Kind != events.KindBackpressure {
			return
		}
		select {
		case stream <- ev:
		case <-r.Context().Done():
		}
	})
	defer unsubscribe()

	run, err := h.engine.GetRun(r.Context(), runID)
	if HandleEngineError(w, h.logger, err) {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Уже завершённый run: единственное терминальное событие и выход.
	if run.Status.IsTerminal() {
		writeSSE(w, events.Event{
			Kind:   events.KindRunFinished,
			RunID:  runID,
			Status: run.Status,
		})
		flusher.Flush()
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-stream:
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
			if ev.Kind == events.KindRunFinished {
				return
			}
		}
	}
}

// writeSSE сериализует событие в формат text/event-stream.
func writeSSE(w http.ResponseWriter, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}
