package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

var hlog = logrus.WithField("module", "http")

// Server is the HTTP surface over the engine, registry, and rule table.
type Server struct {
	engine *Engine
	reg    *Registry
	rules  *RuleTable
	cfg    *Config
}

func NewServer(cfg *Config, engine *Engine, reg *Registry, rules *RuleTable) *Server {
	return &Server{engine: engine, reg: reg, rules: rules, cfg: cfg}
}

// Routes wires all endpoints onto a router.
func (s *Server) Routes(hub *Hub) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/register_intersection", s.registerIntersection).Methods(http.MethodPost)
	r.HandleFunc("/intersections", s.listIntersections).Methods(http.MethodGet)
	r.HandleFunc("/set_priority_rules", s.setPriorityRules).Methods(http.MethodPost)
	r.HandleFunc("/update_location", s.updateLocation).Methods(http.MethodPost)
	r.HandleFunc("/set_range", s.setRange).Methods(http.MethodPost)
	r.HandleFunc("/ws/events", hub.HandleWS)
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.Errorf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	msg := "internal error"
	switch e := err.(type) {
	case *ValidationError:
		code, msg = http.StatusBadRequest, e.Msg
	case *CapacityError:
		code, msg = http.StatusBadRequest, e.Msg
	case *NotFoundError:
		code, msg = http.StatusNotFound, e.Error()
	default:
		hlog.Errorf("request failed: %v", err)
	}
	writeJSON(w, code, map[string]any{"ok": false, "error": msg})
}

func (s *Server) registerIntersection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID     *string  `json:"id"`
		Name   *string  `json:"name"`
		Lat    *float64 `json:"lat"`
		Lon    *float64 `json:"lon"`
		RangeM *float64 `json:"range_m"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, &ValidationError{Msg: "invalid JSON body"})
		return
	}
	switch {
	case body.ID == nil || *body.ID == "":
		writeError(w, missingField("id"))
		return
	case body.Lat == nil:
		writeError(w, missingField("lat"))
		return
	case body.Lon == nil:
		writeError(w, missingField("lon"))
		return
	}
	desc := Intersection{
		ID:     *body.ID,
		Name:   "intersection:" + *body.ID,
		Lat:    *body.Lat,
		Lon:    *body.Lon,
		RangeM: s.cfg.DefaultRangeM,
	}
	if body.Name != nil {
		desc.Name = *body.Name
	}
	if body.RangeM != nil {
		desc.RangeM = *body.RangeM
	}
	created, err := s.reg.Register(desc)
	if err != nil {
		writeError(w, err)
		return
	}
	hlog.Infof("registered intersection %s at (%.5f, %.5f) r=%.0fm", created.ID, created.Lat, created.Lon, created.RangeM)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "intersection": created})
}

func (s *Server) listIntersections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"intersections": s.reg.List()})
}

func (s *Server) setPriorityRules(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rules map[string]any `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Rules == nil {
		writeError(w, &ValidationError{Msg: "rules must be an object"})
		return
	}
	rules, err := s.rules.SetRules(body.Rules)
	if err != nil {
		writeError(w, err)
		return
	}
	hlog.Infof("priority rules replaced (%d tags)", len(rules))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rules": rules})
}

func (s *Server) updateLocation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID                *string  `json:"id"`
		Lat               *float64 `json:"lat"`
		Lon               *float64 `json:"lon"`
		Direction         string   `json:"direction"`
		SpeedMS           *float64 `json:"speed_m_s"`
		Timestamp         any      `json:"timestamp"`
		PatientConditions []string `json:"patient_conditions"`
		PatientScore      any      `json:"patient_score"`
		RangeM            *float64 `json:"range"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, &ValidationError{Msg: "invalid JSON body"})
		return
	}
	if body.Lat == nil {
		writeError(w, missingField("lat"))
		return
	}
	if body.Lon == nil {
		writeError(w, missingField("lon"))
		return
	}
	rep := &LocationReport{
		ID:                "default",
		Lat:               *body.Lat,
		Lon:               *body.Lon,
		Direction:         body.Direction,
		SpeedMS:           body.SpeedMS,
		PatientConditions: body.PatientConditions,
		PatientScore:      body.PatientScore,
		RangeM:            body.RangeM,
	}
	if body.ID != nil && *body.ID != "" {
		rep.ID = *body.ID
	}
	// A malformed timestamp falls back to receipt time.
	if ts, ok := coerceFloat(body.Timestamp); ok {
		rep.Timestamp = ts
	}
	assigned := s.engine.HandleReport(rep)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "assigned_intersections": assigned})
}

func (s *Server) setRange(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RangeM *float64 `json:"range"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, &ValidationError{Msg: "invalid JSON body"})
		return
	}
	if body.RangeM == nil {
		writeError(w, &ValidationError{Msg: "Missing 'range' in JSON body"})
		return
	}
	if err := s.engine.SetGlobalRange(*body.RangeM); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": "Global range override set",
		"range":   *body.RangeM,
	})
}
