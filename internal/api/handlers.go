// 文件: internal/api/handlers.go
package api

import (
	"MediaMerger/config"
	"MediaMerger/internal/models"
	"MediaMerger/internal/task"
	"MediaMerger/pkg/database"
	"MediaMerger/pkg/fsx"
	"MediaMerger/pkg/merger"
	"MediaMerger/pkg/scanner"
	"MediaMerger/pkg/thumbnailer"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gopkg.in/yaml.v3"
)

// Services 是后台任务使用的核心模块。
type Services struct {
	Scanner task.Scanner
	Deduper task.Deduper
	Merger  task.Merger
	// ConfigPath 是 PUT /config 写回的文件
	ConfigPath string
}

// APIHandlers 持有所有依赖
type APIHandlers struct {
	taskManager *task.Manager
	db          database.Store
	svc         Services
}

// NewAPIHandlers 创建一个新的API处理器实例
func NewAPIHandlers(tm *task.Manager, db database.Store, svc Services) *APIHandlers {
	if svc.ConfigPath == "" {
		svc.ConfigPath = "config.yaml"
	}
	return &APIHandlers{taskManager: tm, db: db, svc: svc}
}

// --- 辅助函数 ---

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}

// decodeOptional 解码可选的请求体，空请求体视为使用全部默认值。
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func (h *APIHandlers) startTask(w http.ResponseWriter, kind task.Kind, run task.Runner) {
	taskID, err := h.taskManager.Start(kind, run)
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"taskId": taskID})
}

// --- 任务处理器 ---

func (h *APIHandlers) HandleStartScanTask(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Roots []string `json:"roots"`
		Scope string   `json:"scope"`
		Reset bool     `json:"reset"`
	}
	if err := decodeOptional(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, "无效的请求体: "+err.Error())
		return
	}
	cfg := config.C.Scanner
	opts := scanner.Options{
		Roots:               firstNonEmpty(payload.Roots, cfg.Roots),
		Scope:               orDefault(payload.Scope, cfg.Scope),
		WorkerCount:         cfg.WorkerCount,
		ExcludeFilePatterns: cfg.ExcludeFilePatterns,
		ExcludeDirPatterns:  cfg.ExcludeDirPatterns,
		Reset:               payload.Reset,
	}
	if len(opts.Roots) == 0 {
		respondError(w, http.StatusBadRequest, "缺少 'roots' 字段")
		return
	}
	h.startTask(w, task.KindScan, task.ScanRunner(h.svc.Scanner, opts))
}

func (h *APIHandlers) HandleStartMergeTask(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Sources          []string `json:"sources"`
		ImageDestination string   `json:"imageDestination"`
		VideoDestination string   `json:"videoDestination"`
		Resume           *bool    `json:"resume"`
		RebuildIndex     bool     `json:"rebuildIndex"`
	}
	if err := decodeOptional(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, "无效的请求体: "+err.Error())
		return
	}
	cfg := config.C.Merger
	opts := merger.Options{
		Sources:         firstNonEmpty(payload.Sources, cfg.Sources),
		ImageDest:       orDefault(payload.ImageDestination, cfg.ImageDestination),
		VideoDest:       orDefault(payload.VideoDestination, cfg.VideoDestination),
		Workers:         cfg.WorkerCount,
		Resume:          cfg.Resume,
		RebuildIndex:    payload.RebuildIndex || cfg.RebuildIndex,
		CheckpointPath:  cfg.CheckpointPath,
		CheckpointEvery: cfg.CheckpointEvery,
	}
	if payload.Resume != nil {
		opts.Resume = *payload.Resume
	}
	if len(opts.Sources) == 0 || opts.ImageDest == "" || opts.VideoDest == "" {
		respondError(w, http.StatusBadRequest, "必须提供 'sources'、'imageDestination' 和 'videoDestination'")
		return
	}
	h.startTask(w, task.KindMerge, task.MergeRunner(h.svc.Merger, opts))
}

func (h *APIHandlers) HandleStartDedupeTask(w http.ResponseWriter, r *http.Request) {
	cfg := config.C.Deduper
	req := task.DedupeRequest{
		Scope:          cfg.SourceScope,
		Method:         "single",
		Channel:        cfg.Channel,
		DHashThreshold: cfg.DHashThreshold,
		PHashThreshold: cfg.PHashThreshold,
		Threshold:      -1,
	}
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "无效的请求体: "+err.Error())
		return
	}
	if req.Threshold < 0 {
		req.Threshold = cfg.PHashThreshold
		if req.Channel == string(models.ChannelDHash) {
			req.Threshold = cfg.DHashThreshold
		}
	}
	run, err := task.DedupeRunner(h.svc.Deduper, req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.startTask(w, task.KindDedupe, run)
}

func (h *APIHandlers) HandleStartCopyTask(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Scope            string `json:"scope"`
		ImageDestination string `json:"imageDestination"`
		VideoDestination string `json:"videoDestination"`
		DirectoryDepth   *int   `json:"directoryDepth"`
		HumanOnly        *bool  `json:"humanOnly"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "无效的请求体: "+err.Error())
		return
	}
	if payload.Scope == "" {
		respondError(w, http.StatusBadRequest, "缺少 'scope' 字段")
		return
	}
	cfg := config.C.Merger
	opts := merger.CopyOptions{
		ImageDest:      orDefault(payload.ImageDestination, cfg.ImageDestination),
		VideoDest:      orDefault(payload.VideoDestination, cfg.VideoDestination),
		DirectoryDepth: cfg.DirectoryDepth,
		HumanOnly:      cfg.HumanOnly,
		Workers:        cfg.WorkerCount,
	}
	if payload.DirectoryDepth != nil {
		opts.DirectoryDepth = *payload.DirectoryDepth
	}
	if payload.HumanOnly != nil {
		opts.HumanOnly = *payload.HumanOnly
	}
	h.startTask(w, task.KindCopy, task.CopyRunner(h.svc.Merger, h.db, payload.Scope, opts))
}

func (h *APIHandlers) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.taskManager.List())
}

func (h *APIHandlers) HandleGetTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	status, err := h.taskManager.GetTaskStatus(taskID)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *APIHandlers) HandleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	if err := h.taskManager.Cancel(taskID); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"taskId": taskID, "status": "cancelling"})
}

// --- 数据集处理器 ---

func (h *APIHandlers) HandleListScopes(w http.ResponseWriter, r *http.Request) {
	scopes, err := h.db.Records().ListScopes(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "无法获取数据集列表: "+err.Error())
		return
	}
	type scopeInfo struct {
		Name  string `json:"name"`
		Count int64  `json:"count"`
	}
	out := make([]scopeInfo, 0, len(scopes))
	for _, s := range scopes {
		n, err := h.db.Records().Count(r.Context(), s)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "无法统计数据集: "+err.Error())
			return
		}
		out = append(out, scopeInfo{Name: s, Count: n})
	}
	respondJSON(w, http.StatusOK, out)
}

// HandleListRecords 分页列出数据集中的记录，representatives=true 时只返回代表。
func (h *APIHandlers) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	records, err := h.db.Records().ListByScope(r.Context(), chi.URLParam(r, "scope"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "无法获取记录列表: "+err.Error())
		return
	}
	if r.URL.Query().Get("representatives") == "true" {
		reps := records[:0]
		for _, rec := range records {
			if rec.IsRepresentative {
				reps = append(reps, rec)
			}
		}
		records = reps
	}
	total := len(records)
	start := min((page-1)*limit, total)
	end := min(start+limit, total)
	response := map[string]interface{}{
		"data": records[start:end],
		"pagination": map[string]interface{}{
			"currentPage": page,
			"totalPages":  int(math.Ceil(float64(total) / float64(limit))),
			"totalItems":  total,
		},
	}
	respondJSON(w, http.StatusOK, response)
}

// HandleRecordThumbnail 返回一条图片记录的缩略图。
func (h *APIHandlers) HandleRecordThumbnail(w http.ResponseWriter, r *http.Request) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "recordId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "无效的记录ID")
		return
	}
	records, err := h.db.Records().ListByScope(r.Context(), chi.URLParam(r, "scope"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "无法获取记录: "+err.Error())
		return
	}
	for _, rec := range records {
		if rec.ID != id {
			continue
		}
		if rec.Kind != models.KindImage {
			respondError(w, http.StatusBadRequest, "只有图片记录有缩略图")
			return
		}
		thumb, err := thumbnailer.CreateBase64FromFile(rec.Path, 200, 200)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "生成缩略图失败: "+err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"id": id.Hex(), "thumbnail": thumb})
		return
	}
	respondError(w, http.StatusNotFound, "找不到记录")
}

// --- 配置处理器 ---

// HandleGetConfig 获取当前应用配置
func (h *APIHandlers) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, config.C)
}

// HandleUpdateConfig 更新并保存应用配置
func (h *APIHandlers) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var newConfig config.Config
	if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
		respondError(w, http.StatusBadRequest, "无效的配置格式: "+err.Error())
		return
	}

	yamlData, err := yaml.Marshal(&newConfig)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "序列化配置为YAML失败: "+err.Error())
		return
	}
	if err := fsx.WriteFileAtomic(h.svc.ConfigPath, yamlData, 0644); err != nil {
		respondError(w, http.StatusInternalServerError, "写入配置文件失败: "+err.Error())
		return
	}

	config.C = &newConfig
	respondJSON(w, http.StatusOK, config.C)
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func firstNonEmpty(v, def []string) []string {
	if len(v) > 0 {
		return v
	}
	return def
}
