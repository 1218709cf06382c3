// Package http binds the analytics core to its HTTP surface.
// Authentication happens upstream; requests arrive with the caller's
// institution already resolved into a header.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/chaviprom/procore/internal/aggregate"
	"github.com/chaviprom/procore/internal/application"
	"github.com/chaviprom/procore/internal/domain"
	"github.com/chaviprom/procore/internal/interval"
)

// institutionHeader carries the caller's tenant, set by the gateway.
const institutionHeader = "X-Institution-ID"

// Server routes HTTP requests into the application service.
type Server struct {
	service *application.Service
	log     zerolog.Logger
	router  *mux.Router
}

func NewServer(service *application.Service, log zerolog.Logger) *Server {
	s := &Server{
		service: service,
		log:     log.With().Str("component", "http").Logger(),
	}
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/patients/{patient_id}/review", s.handleReview).Methods(http.MethodGet)
	api.HandleFunc("/patients/{patient_id}/constructs/{construct_id}/aggregate",
		s.aggregateHandler(aggregate.TargetConstruct, "construct_id")).Methods(http.MethodGet)
	api.HandleFunc("/patients/{patient_id}/items/{item_id}/aggregate",
		s.aggregateHandler(aggregate.TargetItem, "item_id")).Methods(http.MethodGet)
	api.HandleFunc("/submissions/{submission_id}/scored", s.handleSubmissionWritten).Methods(http.MethodPost)
	api.HandleFunc("/submissions/{submission_id}/deleted", s.handleSubmissionDeleted).Methods(http.MethodPost)

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	patientID, ok := pathUUID(w, r, "patient_id")
	if !ok {
		return
	}
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	review, err := s.service.GetPatientReview(r.Context(), actor, patientID, filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (s *Server) aggregateHandler(target aggregate.Target, pathVar string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := s.actor(w, r)
		if !ok {
			return
		}
		patientID, ok := pathUUID(w, r, "patient_id")
		if !ok {
			return
		}
		targetID, ok := pathUUID(w, r, pathVar)
		if !ok {
			return
		}
		filter, err := filterFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		stats, err := s.service.GetCohortAggregate(r.Context(), actor, patientID, target, targetID, filter)
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientCohort) {
				// Not enough peers is an answer, not a failure.
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"insufficient_cohort": true,
					"buckets":             []aggregate.BucketStat{},
				})
				return
			}
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"buckets": stats})
	}
}

func (s *Server) handleSubmissionWritten(w http.ResponseWriter, r *http.Request) {
	submissionID, ok := pathUUID(w, r, "submission_id")
	if !ok {
		return
	}
	if err := s.service.OnSubmissionWritten(r.Context(), submissionID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scored"})
}

func (s *Server) handleSubmissionDeleted(w http.ResponseWriter, r *http.Request) {
	submissionID, ok := pathUUID(w, r, "submission_id")
	if !ok {
		return
	}
	if err := s.service.OnSubmissionDeleted(r.Context(), submissionID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "deleted"})
}

func (s *Server) actor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	id, err := uuid.Parse(r.Header.Get(institutionHeader))
	if err != nil {
		writeError(w, http.StatusUnauthorized, errors.New("missing or malformed institution header"))
		return domain.Actor{}, false
	}
	return domain.Actor{InstitutionID: id}, true
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, domain.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err)
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// filterFromQuery reads the optional view parameters. Unset values stay
// zero; the application applies defaults and clamps.
func filterFromQuery(r *http.Request) (application.FilterContext, error) {
	q := r.URL.Query()
	var f application.FilterContext

	if v := q.Get("anchor"); v != "" {
		f.Anchor.Kind = interval.AnchorKind(v)
	}
	if v := q.Get("anchor_ref"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, errors.New("invalid anchor_ref")
		}
		f.Anchor.RefID = id
	}
	if v := q.Get("granularity"); v != "" {
		f.Granularity = domain.Granularity(v)
	}
	if v := q.Get("max_intervals"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("invalid max_intervals")
		}
		f.MaxIntervals = n
	}
	if v := q.Get("submissions"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("invalid submissions")
		}
		f.Submissions = n
	}
	if v := q.Get("questionnaire_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, errors.New("invalid questionnaire_id")
		}
		f.QuestionnaireID = &id
	}
	if v := q.Get("aggregation"); v != "" {
		f.Aggregation = aggregate.Type(v)
	}
	if v := q.Get("gender"); v != "" {
		f.Predicates.Gender = &v
	}
	if v := q.Get("diagnosis_category"); v != "" {
		f.Predicates.DiagnosisCategory = &v
	}
	if v := q.Get("treatment_type"); v != "" {
		f.Predicates.TreatmentType = &v
	}
	if v := q.Get("min_age"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("invalid min_age")
		}
		f.Predicates.MinAge = &n
	}
	if v := q.Get("max_age"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("invalid max_age")
		}
		f.Predicates.MaxAge = &n
	}
	if v := q.Get("upper_bound"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			t, err = time.Parse("2006-01-02", v)
		}
		if err != nil {
			return f, errors.New("invalid upper_bound")
		}
		f.UpperBound = &t
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ListenAndServe runs the handler until ctx is cancelled, then drains
// connections within the shutdown timeout.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, readTimeout, writeTimeout, shutdownTimeout time.Duration, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
