package varjofuse

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/function61/varjo/pkg/logtee"
	"github.com/function61/varjo/pkg/varjoblock"
	"github.com/function61/varjo/pkg/varjofuse/varjofusetypes"
	"github.com/gorilla/mux"
)

type handlers struct {
	fsys    *shadowFS
	logTail *logtee.StringTail
}

func newControlAPI(fsys *shadowFS, logTail *logtee.StringTail) http.Handler {
	h := &handlers{fsys, logTail}

	router := mux.NewRouter()

	router.HandleFunc("/api/blocks", h.Blocks).Methods(http.MethodGet)
	router.HandleFunc("/api/blocks", h.BlockAdd).Methods(http.MethodPost)
	router.HandleFunc("/api/blocks/remove", h.BlockRemove).Methods(http.MethodPost)
	router.HandleFunc("/api/blocks/purge", h.BlocksPurge).Methods(http.MethodPost)
	router.HandleFunc("/api/stats", h.Stats).Methods(http.MethodGet)
	router.HandleFunc("/api/logs", h.Logs).Methods(http.MethodGet)
	router.Handle("/metrics", fsys.metrics.MetricsHTTPHandler()).Methods(http.MethodGet)

	return fsys.metrics.WrapHTTPServer(router)
}

func (h *handlers) Blocks(w http.ResponseWriter, r *http.Request) {
	respondJson(w, h.fsys.blocks.Snapshot())
}

func (h *handlers) BlockAdd(w http.ResponseWriter, r *http.Request) {
	req := varjofusetypes.BlockRequest{}
	if !decodeJson(w, r, &req) {
		return
	}

	if err := h.fsys.blocks.Add(req.Path, req.Owner); err != nil {
		respondError(w, err)
		return
	}

	h.fsys.logl.Info.Printf("block %s (owner %s)", req.Path, req.Owner)
}

func (h *handlers) BlockRemove(w http.ResponseWriter, r *http.Request) {
	req := varjofusetypes.BlockRequest{}
	if !decodeJson(w, r, &req) {
		return
	}

	if err := h.fsys.blocks.Remove(req.Path, req.Owner); err != nil {
		respondError(w, err)
		return
	}

	h.fsys.logl.Info.Printf("unblock %s (owner %s)", req.Path, req.Owner)
}

func (h *handlers) BlocksPurge(w http.ResponseWriter, r *http.Request) {
	req := varjofusetypes.PurgeRequest{}
	if !decodeJson(w, r, &req) {
		return
	}

	removed, err := h.fsys.blocks.RemoveAll(req.Owner)
	if err != nil {
		respondError(w, err)
		return
	}

	h.fsys.logl.Info.Printf("purged %d block(s) of owner %s", removed, req.Owner)

	respondJson(w, varjofusetypes.PurgeResponse{Removed: removed})
}

func (h *handlers) Stats(w http.ResponseWriter, r *http.Request) {
	respondJson(w, varjofusetypes.Stats{
		Alias:  h.fsys.mount.Stats(),
		Blocks: h.fsys.blocks.Stats(),
		Idle:   h.fsys.idleLen(),
	})
}

func (h *handlers) Logs(w http.ResponseWriter, r *http.Request) {
	respondJson(w, h.logTail.Snapshot())
}

func decodeJson(w http.ResponseWriter, r *http.Request, to interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(to); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}

	return true
}

func respondJson(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, varjoblock.ErrExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, varjoblock.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, varjoblock.ErrNotAbsolute):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
