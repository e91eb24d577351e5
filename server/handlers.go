package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/mengeric/jobprogress/client"
	"github.com/mengeric/jobprogress/logging"
	"github.com/mengeric/jobprogress/metrics"
	"github.com/mengeric/jobprogress/processor"
)

// routes 注册全部路由。/api 下的路由需要 token（配置了 APIToken 时）。
//
//	GET    /api/jobs/{jobId}/stream  事件流
//	GET    /api/jobs/{jobId}         当前状态（含归档回查）
//	POST   /api/jobs/{jobId}/status  上游推送回调
//	POST   /api/jobs/{jobId}/watch   开始轮询上游
//	POST   /api/jobs                 启动进程内任务
//	DELETE /api/jobs/{jobId}         取消进程内任务
//	GET    /healthz, GET /metrics
func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authenticate)
	api.Handle("/jobs/{jobId}/stream", s.stream).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobId}/status", s.handleUpstream).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobId}/watch", s.handleWatch).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobId}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobId}", s.handleCancel).Methods(http.MethodDelete)
	api.HandleFunc("/jobs", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return r
}

// authenticate 接受 ?token= 或 Authorization: Bearer。
// 浏览器 EventSource 无法设置请求头，因此事件流只能走查询参数。
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opt.APIToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		tok := r.URL.Query().Get("token")
		if tok == "" {
			tok, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(tok), []byte(s.opt.APIToken)) != 1 {
			writeErr(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleGet 查询状态；内存中不存在时回查归档。
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	if rec, ok := s.store.Get(jobID); ok {
		writeJSON(w, rec)
		return
	}
	if s.archive != nil {
		rec, err := s.archive.Get(r.Context(), jobID)
		if err == nil {
			writeJSON(w, rec)
			return
		}
		logging.L().Debug(r.Context(), "archive lookup missed", "job", jobID, "err", err)
	}
	writeErr(w, http.StatusNotFound, fmt.Errorf("job %s not found", jobID))
}

// handleUpstream 上游推送回调。载荷非法时任务以 UPSTREAM_MALFORMED 终态结束并返回 400。
func (s *Server) handleUpstream(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	var body *client.PipelineStatus
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = s.pub.HandleUpstream(r.Context(), jobID, nil)
		writeErr(w, http.StatusBadRequest, fmt.Errorf("%w: %v", client.ErrMalformed, err))
		return
	}
	if err := s.pub.HandleUpstream(r.Context(), jobID, body); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	rec, _ := s.store.Get(jobID)
	writeJSON(w, rec)
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	if !s.pub.Watch(jobID) {
		writeErr(w, http.StatusServiceUnavailable, errors.New("pipeline not configured"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"jobId": jobID, "streamUrl": streamURL(jobID)})
}

type startReq struct {
	JobID     string         `json:"jobId"`
	Processor string         `json:"processor"`
	Params    map[string]any `json:"params"`
}

// handleStart 启动进程内任务，任务生命周期跟随服务而非请求。
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	p, ok := processor.Get(req.Processor)
	if !ok {
		writeErr(w, http.StatusNotFound, fmt.Errorf("%w: %q", processor.ErrNotFound, req.Processor))
		return
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	if _, err := s.pub.Run(s.base, req.JobID, p, req.Params); err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	logging.L().Info(r.Context(), "job started", "job", req.JobID, "processor", req.Processor)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"jobId": req.JobID, "streamUrl": streamURL(req.JobID)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	if !s.pub.Cancel(jobID) {
		writeErr(w, http.StatusNotFound, fmt.Errorf("job %s not running", jobID))
		return
	}
	writeJSON(w, map[string]any{"success": true})
}

type health struct {
	Status     string               `json:"status"`
	Streams    int                  `json:"streams"`
	Records    int                  `json:"records"`
	Processors []string             `json:"processors"`
	System     metrics.SystemMetric `json:"system"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := health{
		Status:     "ok",
		Streams:    s.stream.Connections().Count(),
		Records:    -1,
		Processors: processor.Names(),
		System:     metrics.CollectSystemMetric(r.Context()),
	}
	if l, ok := s.store.(interface{ Len() int }); ok {
		h.Records = l.Len()
	}
	writeJSON(w, h)
}

func streamURL(jobID string) string { return "/api/jobs/" + jobID + "/stream" }

// writeErr/JSON 公共返回工具。
func writeErr(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": err.Error()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
