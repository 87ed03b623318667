package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	log "github.com/sisoputnfrba/tp-kernel/utils/logger"
	"github.com/sisoputnfrba/tp-kernel/utils/views"
)

// Kernel is what the inspection API can see of a running kernel.
type Kernel interface {
	Tasks() []views.TaskView
	Task(id int) (views.TaskView, bool)
	SchedulerView() views.SchedulerView
	MemoryView() views.MemoryView
}

type Handlers struct {
	kernel Kernel
	logger *log.LoggerStruct
}

func New(k Kernel, logger *log.LoggerStruct) *Handlers {
	return &Handlers{kernel: k, logger: logger}
}

func (h *Handlers) ListarTareas(w http.ResponseWriter, r *http.Request) {
	h.responder(w, http.StatusOK, h.kernel.Tasks())
}

func (h *Handlers) ObtenerTarea(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "task id must be a number", http.StatusBadRequest)
		return
	}
	v, ok := h.kernel.Task(id)
	if !ok {
		http.Error(w, "no such task", http.StatusNotFound)
		return
	}
	h.responder(w, http.StatusOK, v)
}

func (h *Handlers) Memoria(w http.ResponseWriter, r *http.Request) {
	h.responder(w, http.StatusOK, h.kernel.MemoryView())
}

func (h *Handlers) Planificador(w http.ResponseWriter, r *http.Request) {
	h.responder(w, http.StatusOK, h.kernel.SchedulerView())
}

func (h *Handlers) responder(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Log("Error codificando respuesta: "+err.Error(), log.ERROR)
	}
}
