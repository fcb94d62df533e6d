package web

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/sweeney/heating-controller/internal/heating"
	"github.com/sweeney/heating-controller/internal/history"
	"github.com/sweeney/heating-controller/internal/room"
	"github.com/sweeney/heating-controller/internal/schedule"
)

func (s *Server) routes(r *mux.Router) {
	r.HandleFunc("/rooms", s.listRooms).Methods(http.MethodGet)
	r.HandleFunc("/rooms", s.createRoom).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{name}", s.getRoom).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{name}", s.updateRoom).Methods(http.MethodPut)
	r.HandleFunc("/rooms/{name}", s.deleteRoom).Methods(http.MethodDelete)
	r.HandleFunc("/rooms/{name}/thermometers", s.addThermometer).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{name}/thermometers/{id}", s.removeThermometer).Methods(http.MethodDelete)

	r.HandleFunc("/heating/mode", s.getHeatingMode).Methods(http.MethodGet)
	r.HandleFunc("/heating/mode", s.setHeatingMode).Methods(http.MethodPost)
	r.HandleFunc("/heating/manual", s.getManual).Methods(http.MethodGet)
	r.HandleFunc("/heating/manual", s.setManual).Methods(http.MethodPost)
	r.HandleFunc("/heating/status", s.heatingStatus).Methods(http.MethodGet)

	r.HandleFunc("/schedule", s.getSchedule).Methods(http.MethodGet)
	r.HandleFunc("/schedule", s.putSchedule).Methods(http.MethodPut)
	r.HandleFunc("/schedule/slots", s.setSlot).Methods(http.MethodPost)
	r.HandleFunc("/schedule/now", s.scheduleNow).Methods(http.MethodGet)

	r.HandleFunc("/directives/{kind}", s.listDirectives).Methods(http.MethodGet)
	r.HandleFunc("/directives/{kind}", s.addDirective).Methods(http.MethodPost)
	r.HandleFunc("/directives/{kind}", s.removeMatching).Methods(http.MethodDelete)
	r.HandleFunc("/directives/{kind}/index/{index:[0-9]+}", s.removeDirectiveAt).Methods(http.MethodDelete)
	r.HandleFunc("/directives/{kind}/{id}", s.removeDirective).Methods(http.MethodDelete)

	r.HandleFunc("/presence/arrive", s.presence(true)).Methods(http.MethodPost)
	r.HandleFunc("/presence/leave", s.presence(false)).Methods(http.MethodPost)

	r.HandleFunc("/history/days", s.historyDays).Methods(http.MethodGet)
	r.HandleFunc("/history/days/{date:[0-9]{4}-[0-9]{2}-[0-9]{2}}", s.historyDay).Methods(http.MethodGet)
	r.HandleFunc("/history/months", s.historyMonths).Methods(http.MethodGet)
	r.HandleFunc("/history/years", s.historyYears).Methods(http.MethodGet)
	r.HandleFunc("/history/runs", s.historyRuns).Methods(http.MethodGet)
	r.HandleFunc("/history/rate", s.historyRate).Methods(http.MethodGet)

	r.HandleFunc("/settings/reset", s.resetSettings).Methods(http.MethodPost)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, room.ErrInvalid),
		errors.Is(err, schedule.ErrInvalidRange),
		errors.Is(err, history.ErrInvalidRange):
		code = http.StatusBadRequest
	case errors.Is(err, room.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, room.ErrDuplicate), errors.Is(err, schedule.ErrNoChange):
		code = http.StatusConflict
	case errors.Is(err, schedule.ErrBusy):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		log.Printf("web: %v", err)
	}
	writeJSON(w, code, ErrorJSON{Error: err.Error()})
}

// Rooms

func (s *Server) observeRoom(name string) (RoomJSON, error) {
	mode := s.ctrl.Rooms().ActiveMode()
	for _, o := range s.ctrl.Rooms().Observe(s.now()) {
		if o.Name == name {
			return roomJSON(o, mode), nil
		}
	}
	return RoomJSON{}, fmt.Errorf("%w: room %q", room.ErrNotFound, name)
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	mode := s.ctrl.Rooms().ActiveMode()
	out := []RoomJSON{}
	for _, o := range s.ctrl.Rooms().Observe(s.now()) {
		out = append(out, roomJSON(o, mode))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	rj, err := s.observeRoom(mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rj)
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == nil {
		writeError(w, fmt.Errorf("%w: room_name is required", room.ErrInvalid))
		return
	}
	cfg := room.DefaultConfig(*req.Name)
	req.apply(&cfg)
	if err := s.ctrl.Rooms().Add(cfg); err != nil {
		writeError(w, err)
		return
	}
	s.ctrl.MarkDirty()
	log.Printf("web: room %q added", cfg.Name)

	rj, err := s.observeRoom(cfg.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rj)
}

func (s *Server) updateRoom(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req roomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.ctrl.Rooms().Update(name, req.apply); err != nil {
		writeError(w, err)
		return
	}
	s.ctrl.MarkDirty()

	if req.Name != nil {
		name = *req.Name
	}
	rj, err := s.observeRoom(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rj)
}

func (s *Server) deleteRoom(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.ctrl.Rooms().Remove(name); err != nil {
		writeError(w, err)
		return
	}
	s.ctrl.MarkDirty()
	log.Printf("web: room %q removed", name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addThermometer(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req sensorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.ctrl.Rooms().AddSensor(name, strings.TrimSpace(req.MAC)); err != nil {
		writeError(w, err)
		return
	}
	s.ctrl.MarkDirty()

	rj, err := s.observeRoom(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rj)
}

func (s *Server) removeThermometer(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	if err := s.ctrl.Rooms().RemoveSensor(v["name"], v["id"]); err != nil {
		writeError(w, err)
		return
	}
	s.ctrl.MarkDirty()
	w.WriteHeader(http.StatusNoContent)
}

// Heating mode

func (s *Server) applySettings(w http.ResponseWriter, next heating.Settings) {
	if err := s.ctrl.SetSettings(next); err != nil {
		writeError(w, err)
		return
	}
	s.tracker.SetSettings(next)
	log.Printf("web: operating mode %s (manual_on=%v)", next.Mode, next.ManualOn)
	writeJSON(w, http.StatusOK, HeatingModeJSON{Mode: string(next.Mode), ManualOn: next.ManualOn})
}

func (s *Server) getHeatingMode(w http.ResponseWriter, r *http.Request) {
	cur := s.ctrl.Engine().Settings()
	writeJSON(w, http.StatusOK, HeatingModeJSON{Mode: string(cur.Mode), ManualOn: cur.ManualOn})
}

func (s *Server) setHeatingMode(w http.ResponseWriter, r *http.Request) {
	var req heatingModeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	m, err := heating.ParseOperatingMode(req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}
	next := s.ctrl.Engine().Settings()
	next.Mode = m
	if req.ManualOn != nil {
		next.ManualOn = *req.ManualOn
	}
	s.applySettings(w, next)
}

func (s *Server) getManual(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ManualJSON{On: s.ctrl.Engine().Settings().ManualOn})
}

func (s *Server) setManual(w http.ResponseWriter, r *http.Request) {
	var req ManualJSON
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	next := s.ctrl.Engine().Settings()
	next.ManualOn = req.On
	s.applySettings(w, next)
}

func (s *Server) heatingStatus(w http.ResponseWriter, r *http.Request) {
	st := s.ctrl.Engine().State()
	set := s.ctrl.Engine().Settings()
	writeJSON(w, http.StatusOK, HeatingStatusJSON{
		IsHeating:     st.Heating,
		LastOn:        formatTime(st.LastOn),
		ActiveMode:    string(s.ctrl.Rooms().ActiveMode()),
		OperatingMode: string(set.Mode),
		ManualOn:      set.ManualOn,
		Decision:      string(s.tracker.Snapshot().Decision),
	})
}

// Schedule

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	p, err := s.ctrl.Schedule().Plan(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleJSON(p, s.ctrl.Location()))
}

func (s *Server) putSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleJSON
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := req.plan()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.ctrl.Schedule().SetPlan(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	s.ctrl.MarkDirty()
	log.Printf("web: weekly plan replaced")
	writeJSON(w, http.StatusOK, scheduleJSON(p, s.ctrl.Location()))
}

func (s *Server) setSlot(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Day == nil || req.Hour == nil {
		writeError(w, fmt.Errorf("%w: day and hour are required", room.ErrInvalid))
		return
	}
	m, err := room.ParseMode(req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.ctrl.Schedule().SetSlot(r.Context(), *req.Day, *req.Hour, m); err != nil {
		writeError(w, err)
		return
	}
	s.ctrl.MarkDirty()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) scheduleNow(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	m, err := s.ctrl.Schedule().Resolve(r.Context(), now)
	if err != nil {
		writeError(w, err)
		return
	}
	next, err := s.ctrl.Schedule().NextChangeTime(r.Context(), now)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResolutionJSON{Mode: string(m), NextChange: formatTime(next)})
}

// Directives

func (s *Server) listDirectives(w http.ResponseWriter, r *http.Request) {
	k, err := schedule.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, err)
		return
	}
	ds, err := s.ctrl.Schedule().Directives(r.Context(), k)
	if err != nil {
		writeError(w, err)
		return
	}
	out := []DirectiveJSON{}
	for _, d := range ds {
		out = append(out, directiveJSON(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) addDirective(w http.ResponseWriter, r *http.Request) {
	k, err := schedule.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, err)
		return
	}
	var req directiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	start, end, m, err := req.parse()
	if err != nil {
		writeError(w, err)
		return
	}

	var d schedule.Directive
	if k == schedule.KindSmart {
		d, err = s.ctrl.Schedule().AddSmartDirective(r.Context(), start, end, m)
	} else {
		d, err = s.ctrl.Schedule().AddUserDirective(r.Context(), start, end, m)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	s.ctrl.MarkDirty()
	writeJSON(w, http.StatusCreated, directiveJSON(d))
}

func (s *Server) removeDirective(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	k, err := schedule.ParseKind(v["kind"])
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.ctrl.Schedule().RemoveDirective(r.Context(), k, v["id"]); err != nil {
		writeError(w, err)
		return
	}
	s.ctrl.MarkDirty()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeDirectiveAt(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	k, err := schedule.ParseKind(v["kind"])
	if err != nil {
		writeError(w, err)
		return
	}
	i, err := strconv.Atoi(v["index"])
	if err != nil {
		writeError(w, fmt.Errorf("%w: index: %v", room.ErrInvalid, err))
		return
	}
	if err := s.ctrl.Schedule().RemoveDirectiveAt(r.Context(), k, i); err != nil {
		writeError(w, err)
		return
	}
	s.ctrl.MarkDirty()
	w.WriteHeader(http.StatusNoContent)
}

type removedJSON struct {
	Removed int `json:"removed"`
}

func (s *Server) removeMatching(w http.ResponseWriter, r *http.Request) {
	k, err := schedule.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	req := directiveRequest{Start: q.Get("start"), End: q.Get("end"), Mode: q.Get("mode")}
	start, end, m, err := req.parse()
	if err != nil {
		writeError(w, err)
		return
	}
	n, err := s.ctrl.Schedule().RemoveDirectiveMatching(r.Context(), k, start, end, m)
	if err != nil {
		writeError(w, err)
		return
	}
	s.ctrl.MarkDirty()
	writeJSON(w, http.StatusOK, removedJSON{Removed: n})
}

// Presence

func (s *Server) presence(arrive bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		at := s.now()
		if r.ContentLength != 0 {
			var req presenceRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, err)
				return
			}
			if req.At != "" {
				t, err := parseTime("at", req.At)
				if err != nil {
					writeError(w, err)
					return
				}
				at = t
			}
		}

		var (
			d   schedule.Directive
			err error
		)
		if arrive {
			d, err = s.ctrl.Schedule().Arrive(r.Context(), at)
		} else {
			d, err = s.ctrl.Schedule().Leave(r.Context(), at)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		s.ctrl.MarkDirty()
		log.Printf("web: presence %s until %s", d.Mode, d.End.In(s.ctrl.Location()).Format(time.RFC3339))
		writeJSON(w, http.StatusCreated, directiveJSON(d))
	}
}

// History

func (s *Server) historyDays(w http.ResponseWriter, r *http.Request) {
	out := []DayUsageJSON{}
	for _, d := range s.ctrl.History().Last31Days(s.now()) {
		out = append(out, dayUsage(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) historyDay(w http.ResponseWriter, r *http.Request) {
	t, err := time.ParseInLocation("2006-01-02", mux.Vars(r)["date"], s.ctrl.Location())
	if err != nil {
		writeError(w, fmt.Errorf("%w: date: %v", room.ErrInvalid, err))
		return
	}
	d, ok := s.ctrl.History().Day(history.DayOf(t, s.ctrl.Location()))
	if !ok {
		writeError(w, fmt.Errorf("%w: no usage on %s", room.ErrNotFound, t.Format("2006-01-02")))
		return
	}
	writeJSON(w, http.StatusOK, dayUsage(d))
}

func (s *Server) historyMonths(w http.ResponseWriter, r *http.Request) {
	out := []MonthUsageJSON{}
	for _, m := range s.ctrl.History().Last12Months(s.now()) {
		out = append(out, monthUsage(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) historyYears(w http.ResponseWriter, r *http.Request) {
	out := []YearUsageJSON{}
	for _, y := range s.ctrl.History().Last10Years(s.now()) {
		out = append(out, yearUsage(y))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) historyRuns(w http.ResponseWriter, r *http.Request) {
	out := []RunJSON{}
	for _, run := range s.ctrl.History().Runs() {
		out = append(out, runJSON(run))
	}
	writeJSON(w, http.StatusOK, out)
}

type rateJSON struct {
	HeatingRate float64 `json:"heating_rate"`
}

func (s *Server) historyRate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rateJSON{HeatingRate: s.ctrl.History().HeatingRate()})
}

// Settings

func (s *Server) resetSettings(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.ResetSettings(); err != nil {
		writeError(w, err)
		return
	}
	s.tracker.SetSettings(s.ctrl.Engine().Settings())
	w.WriteHeader(http.StatusNoContent)
}
