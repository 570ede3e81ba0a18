package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/1ambda/dataops-platform-sub014/internal/log"
	"github.com/1ambda/dataops-platform-sub014/pkg/models"
	"github.com/1ambda/dataops-platform-sub014/pkg/service"
	"github.com/1ambda/dataops-platform-sub014/pkg/storage"
)

func StartServer(port string, wfSvc *service.WorkflowService, runSvc *service.RunService) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/workflows", WorkflowsHandler(wfSvc))
	mux.HandleFunc("/workflows/", WorkflowByNameHandler(wfSvc, runSvc))
	mux.HandleFunc("/runs", RunsHandler(runSvc))
	mux.HandleFunc("/runs/", RunByIDHandler(runSvc))

	log.GetLogger().Infof("Starting flowctl server on :%s", port)
	return http.ListenAndServe(":"+port, mux)
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "flowctl server is running")
}

// WorkflowsHandler serves GET /workflows (filtered list) and POST /workflows
// (register).
func WorkflowsHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			listWorkflowsHTTP(w, r, svc)
		case http.MethodPost:
			registerWorkflowHTTP(w, r, svc)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// WorkflowByNameHandler serves /workflows/{name} and the action subpaths
// pause, unpause, unregister, trigger, backfill and spec.
func WorkflowByNameHandler(wfSvc *service.WorkflowService, runSvc *service.RunService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/workflows/")
		name, action := rest, ""
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			name, action = rest[:idx], rest[idx+1:]
		}
		if name == "" {
			http.Error(w, "Missing dataset name", http.StatusBadRequest)
			return
		}

		switch {
		case action == "" && r.Method == http.MethodGet:
			wf, err := wfSvc.GetWorkflow(name)
			respond(w, wf, err)
		case action == "spec" && r.Method == http.MethodGet:
			text, err := wfSvc.GetSpec(r.Context(), name)
			respond(w, map[string]string{"spec": text}, err)
		case action == "pause" && r.Method == http.MethodPost:
			wf, err := wfSvc.Pause(r.Context(), name, r.FormValue("reason"), r.FormValue("by"))
			respond(w, wf, err)
		case action == "unpause" && r.Method == http.MethodPost:
			wf, err := wfSvc.Unpause(r.Context(), name, r.FormValue("by"))
			respond(w, wf, err)
		case action == "unregister" && r.Method == http.MethodPost:
			force, _ := strconv.ParseBool(r.FormValue("force"))
			wf, err := wfSvc.Unregister(r.Context(), name, force, r.FormValue("by"))
			respond(w, wf, err)
		case action == "trigger" && r.Method == http.MethodPost:
			var body struct {
				Params      map[string]string `json:"params"`
				TriggeredBy string            `json:"triggered_by"`
			}
			if !decodeBody(w, r, &body) {
				return
			}
			run, err := runSvc.Trigger(r.Context(), name, body.Params, body.TriggeredBy)
			respond(w, run, err)
		case action == "backfill" && r.Method == http.MethodPost:
			var body struct {
				StartDate   string            `json:"start_date"`
				EndDate     string            `json:"end_date"`
				Params      map[string]string `json:"params"`
				Parallel    bool              `json:"parallel"`
				Strategy    string            `json:"strategy"`
				TriggeredBy string            `json:"triggered_by"`
			}
			if !decodeBody(w, r, &body) {
				return
			}
			runs, err := runSvc.Backfill(r.Context(), service.BackfillRequest{
				DatasetName: name,
				StartDate:   body.StartDate,
				EndDate:     body.EndDate,
				Params:      body.Params,
				Parallel:    body.Parallel,
				Strategy:    service.BackfillStrategy(body.Strategy),
				TriggeredBy: body.TriggeredBy,
			})
			respond(w, runs, err)
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
	}
}

// RunsHandler serves GET /runs (run history).
func RunsHandler(svc *service.RunService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		filter := storage.RunFilter{DatasetName: r.URL.Query().Get("dataset")}
		if start := r.URL.Query().Get("start"); start != "" {
			d, err := time.Parse(service.DateLayout, start)
			if err != nil {
				http.Error(w, "Invalid 'start' parameter, want YYYY-MM-DD", http.StatusBadRequest)
				return
			}
			filter.StartDate = &d
		}
		if end := r.URL.Query().Get("end"); end != "" {
			d, err := time.Parse(service.DateLayout, end)
			if err != nil {
				http.Error(w, "Invalid 'end' parameter, want YYYY-MM-DD", http.StatusBadRequest)
				return
			}
			filter.EndDate = &d
		}
		if limit := r.URL.Query().Get("limit"); limit != "" {
			n, err := strconv.Atoi(limit)
			if err != nil {
				http.Error(w, "Invalid 'limit' parameter", http.StatusBadRequest)
				return
			}
			filter.Limit = n
		}
		runs, err := svc.ListRunHistory(filter)
		respond(w, runs, err)
	}
}

// RunByIDHandler serves GET /runs/{id} (synced against the scheduler) and
// POST /runs/{id}/stop.
func RunByIDHandler(svc *service.RunService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/runs/")
		runID, action := rest, ""
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			runID, action = rest[:idx], rest[idx+1:]
		}
		if runID == "" {
			http.Error(w, "Missing run id", http.StatusBadRequest)
			return
		}

		switch {
		case action == "" && r.Method == http.MethodGet:
			run, err := svc.GetRunWithSync(r.Context(), runID)
			respond(w, run, err)
		case action == "stop" && r.Method == http.MethodPost:
			run, err := svc.Stop(r.Context(), runID, r.FormValue("reason"), r.FormValue("by"))
			respond(w, run, err)
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
	}
}

func registerWorkflowHTTP(w http.ResponseWriter, r *http.Request, svc *service.WorkflowService) {
	var body struct {
		DatasetName string `json:"dataset_name"`
		SourceType  string `json:"source_type"`
		Cron        string `json:"cron"`
		Timezone    string `json:"timezone"`
		Owner       string `json:"owner"`
		Team        string `json:"team"`
		Description string `json:"description"`
		Spec        string `json:"spec"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	wf, err := svc.Register(r.Context(), service.RegisterRequest{
		DatasetName: body.DatasetName,
		SourceType:  models.SourceType(body.SourceType),
		Schedule:    models.Schedule{Cron: body.Cron, Timezone: body.Timezone},
		Owner:       body.Owner,
		Team:        body.Team,
		Description: body.Description,
		SpecText:    body.Spec,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, wf)
}

func listWorkflowsHTTP(w http.ResponseWriter, r *http.Request, svc *service.WorkflowService) {
	q := r.URL.Query()
	filter := storage.WorkflowFilter{Owner: q.Get("owner")}
	if status := q.Get("status"); status != "" {
		st := models.WorkflowStatus(status)
		filter.Status = &st
	}
	if sourceType := q.Get("source_type"); sourceType != "" {
		st := models.SourceType(sourceType)
		filter.SourceType = &st
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			http.Error(w, "Invalid 'limit' parameter", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}
	if offset := q.Get("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil {
			http.Error(w, "Invalid 'offset' parameter", http.StatusBadRequest)
			return
		}
		filter.Offset = n
	}
	workflows, err := svc.ListWorkflows(filter)
	respond(w, workflows, err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func respond(w http.ResponseWriter, payload interface{}, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, payload)
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	log.GetLogger().Errorf("Request failed: %v", err)
	http.Error(w, err.Error(), statusCode(err))
}

func statusCode(err error) int {
	var notFound *service.NotFoundError
	var alreadyExists *service.AlreadyExistsError
	var invalidArgument *service.InvalidArgumentError
	var invalidState *service.InvalidStateError
	var externalFailure *service.ExternalFailureError
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &alreadyExists):
		return http.StatusConflict
	case errors.As(err, &invalidArgument):
		return http.StatusBadRequest
	case errors.As(err, &invalidState):
		return http.StatusConflict
	case errors.As(err, &externalFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
