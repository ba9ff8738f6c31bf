// 文件: internal/api/routes.go
package api

import (
	"MediaMerger/internal/task"
	"MediaMerger/pkg/database"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RegisterRoutes 注册所有API路由
func RegisterRoutes(tm *task.Manager, db database.Store, svc Services) *chi.Mux {
	r := chi.NewRouter()

	// --- 中间件 (Middleware) ---
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// 配置CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	handlers := NewAPIHandlers(tm, db, svc)

	// --- API路由 ---
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tasks", handlers.HandleListTasks)
		r.Post("/tasks/scan", handlers.HandleStartScanTask)
		r.Post("/tasks/merge", handlers.HandleStartMergeTask)
		r.Post("/tasks/dedupe", handlers.HandleStartDedupeTask)
		r.Post("/tasks/copy", handlers.HandleStartCopyTask)
		r.Get("/tasks/{taskId}", handlers.HandleGetTaskStatus)
		r.Post("/tasks/{taskId}/cancel", handlers.HandleCancelTask)
		r.Get("/scopes", handlers.HandleListScopes)
		r.Get("/scopes/{scope}/records", handlers.HandleListRecords)
		r.Get("/scopes/{scope}/records/{recordId}/thumbnail", handlers.HandleRecordThumbnail)
		r.Get("/config", handlers.HandleGetConfig)
		r.Put("/config", handlers.HandleUpdateConfig)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
