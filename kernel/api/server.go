// Package api serves a read-only JSON view of the running kernel.
package api

import (
	"net/http"

	"github.com/sisoputnfrba/tp-kernel/kernel/api/handlers"
	log "github.com/sisoputnfrba/tp-kernel/utils/logger"
	"github.com/sisoputnfrba/tp-kernel/utils/server"
)

func CrearServer(port int, k handlers.Kernel, logger *log.LoggerStruct) *server.Server {
	h := handlers.New(k, logger)
	configServer := server.Config{
		Port: port,
		Handlers: map[string]http.HandlerFunc{
			"GET /tasks":      h.ListarTareas,
			"GET /tasks/{id}": h.ObtenerTarea,
			"GET /memory":     h.Memoria,
			"GET /scheduler":  h.Planificador,
		},
	}
	return server.NuevoServer(configServer)
}
