package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sweeney/heating-controller/internal/history"
	"github.com/sweeney/heating-controller/internal/room"
	"github.com/sweeney/heating-controller/internal/schedule"
)

// maxBody bounds request bodies. A full plan is well under this.
const maxBody = 64 << 10

var errBadRequest = errors.New("bad request")

// ErrorJSON is the body of every non-2xx API response.
type ErrorJSON struct {
	Error string `json:"error"`
}

// RoomJSON is a room as listed by the API. Field names follow the
// thermostat app's wire format.
type RoomJSON struct {
	Name         string            `json:"room_name"`
	Temperature  float64           `json:"current_temperature"`
	Humidity     float64           `json:"current_humidity"`
	Valid        bool              `json:"valid"`
	HomeTarget   float64           `json:"home_target_temperature"`
	HomeLow      float64           `json:"home_low_offset"`
	HomeHigh     float64           `json:"home_high_offset"`
	AwayTarget   float64           `json:"away_target_temperature"`
	AwayLow      float64           `json:"away_low_offset"`
	AwayHigh     float64           `json:"away_high_offset"`
	NightTarget  float64           `json:"night_target_temperature"`
	NightLow     float64           `json:"night_low_offset"`
	NightHigh    float64           `json:"night_high_offset"`
	Priority     float64           `json:"room_priority"`
	Mode         string            `json:"mode"`
	Need         float64           `json:"need"`
	Thermometers []ThermometerJSON `json:"thermometers"`
}

// ThermometerJSON is one sensor's last reading.
type ThermometerJSON struct {
	MAC         string  `json:"mac"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Battery     int     `json:"battery"`
	LastSeen    string  `json:"last_seen,omitempty"`
	Valid       bool    `json:"valid"`
}

func roomJSON(o room.Observation, m room.Mode) RoomJSON {
	rj := RoomJSON{
		Name:         o.Name,
		Temperature:  o.Temperature,
		Humidity:     o.Humidity,
		Valid:        o.Valid,
		HomeTarget:   o.Home.Target,
		HomeLow:      o.Home.LowOffset,
		HomeHigh:     o.Home.HighOffset,
		AwayTarget:   o.Away.Target,
		AwayLow:      o.Away.LowOffset,
		AwayHigh:     o.Away.HighOffset,
		NightTarget:  o.Night.Target,
		NightLow:     o.Night.LowOffset,
		NightHigh:    o.Night.HighOffset,
		Priority:     o.Priority,
		Mode:         string(m),
		Thermometers: []ThermometerJSON{},
	}
	if o.Valid {
		rj.Need = o.Need(m)
	}
	for _, st := range o.SensorState {
		rj.Thermometers = append(rj.Thermometers, ThermometerJSON{
			MAC:         st.ID,
			Temperature: st.Temperature,
			Humidity:    st.Humidity,
			Battery:     st.Battery,
			LastSeen:    formatTime(st.ReadAt),
			Valid:       st.Valid,
		})
	}
	return rj
}

// roomRequest is the body of room create and update. Absent fields keep
// their current (or default) value.
type roomRequest struct {
	Name         *string   `json:"room_name"`
	HomeTarget   *float64  `json:"home_target_temperature"`
	HomeLow      *float64  `json:"home_low_offset"`
	HomeHigh     *float64  `json:"home_high_offset"`
	AwayTarget   *float64  `json:"away_target_temperature"`
	AwayLow      *float64  `json:"away_low_offset"`
	AwayHigh     *float64  `json:"away_high_offset"`
	NightTarget  *float64  `json:"night_target_temperature"`
	NightLow     *float64  `json:"night_low_offset"`
	NightHigh    *float64  `json:"night_high_offset"`
	Priority     *float64  `json:"room_priority"`
	Thermometers *[]string `json:"thermometers"`
}

func (req roomRequest) apply(c *room.Config) {
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	if req.Name != nil {
		c.Name = *req.Name
	}
	set(&c.Home.Target, req.HomeTarget)
	set(&c.Home.LowOffset, req.HomeLow)
	set(&c.Home.HighOffset, req.HomeHigh)
	set(&c.Away.Target, req.AwayTarget)
	set(&c.Away.LowOffset, req.AwayLow)
	set(&c.Away.HighOffset, req.AwayHigh)
	set(&c.Night.Target, req.NightTarget)
	set(&c.Night.LowOffset, req.NightLow)
	set(&c.Night.HighOffset, req.NightHigh)
	set(&c.Priority, req.Priority)
	if req.Thermometers != nil {
		c.Sensors = append([]string(nil), (*req.Thermometers)...)
	}
}

// sensorRequest adds a thermometer to a room.
type sensorRequest struct {
	MAC string `json:"mac"`
}

// HeatingModeJSON is the global operating mode.
type HeatingModeJSON struct {
	Mode     string `json:"mode"`
	ManualOn bool   `json:"manual_on"`
}

type heatingModeRequest struct {
	Mode     string `json:"mode"`
	ManualOn *bool  `json:"manual_on"`
}

// ManualJSON is the manual relay state used in MANUAL mode.
type ManualJSON struct {
	On bool `json:"on"`
}

// HeatingStatusJSON reports the relay and the modes behind it.
type HeatingStatusJSON struct {
	IsHeating     bool   `json:"is_heating"`
	LastOn        string `json:"last_on,omitempty"`
	ActiveMode    string `json:"active_mode"`
	OperatingMode string `json:"operating_mode"`
	ManualOn      bool   `json:"manual_on"`
	Decision      string `json:"decision,omitempty"`
}

// ScheduleJSON is the weekly plan, Monday first, 48 half-hour slots a day.
type ScheduleJSON struct {
	Timezone string    `json:"timezone,omitempty"`
	Days     []DayJSON `json:"days"`
}

// DayJSON is one day of the plan.
type DayJSON struct {
	Hours []string `json:"hours"`
}

func scheduleJSON(p schedule.Plan, loc *time.Location) ScheduleJSON {
	sj := ScheduleJSON{Timezone: loc.String(), Days: make([]DayJSON, schedule.Days)}
	for d := range p {
		hours := make([]string, schedule.SlotsPerDay)
		for s, m := range p[d] {
			hours[s] = string(m)
		}
		sj.Days[d] = DayJSON{Hours: hours}
	}
	return sj
}

func (sj ScheduleJSON) plan() (schedule.Plan, error) {
	var p schedule.Plan
	if len(sj.Days) != schedule.Days {
		return p, fmt.Errorf("%w: plan needs %d days, got %d", room.ErrInvalid, schedule.Days, len(sj.Days))
	}
	for d, day := range sj.Days {
		if len(day.Hours) != schedule.SlotsPerDay {
			return p, fmt.Errorf("%w: day %d needs %d slots, got %d", room.ErrInvalid, d, schedule.SlotsPerDay, len(day.Hours))
		}
		for s, v := range day.Hours {
			m, err := room.ParseMode(v)
			if err != nil {
				return p, fmt.Errorf("day %d slot %d: %w", d, s, err)
			}
			p[d][s] = m
		}
	}
	return p, nil
}

// slotRequest sets one half-hour slot. Hour is the slot index 0..47.
type slotRequest struct {
	Day  *int   `json:"day"`
	Hour *int   `json:"hour"`
	Mode string `json:"mode"`
}

// ResolutionJSON is the mode in force now and when it next changes.
type ResolutionJSON struct {
	Mode       string `json:"mode"`
	NextChange string `json:"next_change"`
}

// DirectiveJSON is one override.
type DirectiveJSON struct {
	ID    string `json:"id"`
	Start string `json:"start"`
	End   string `json:"end"`
	Mode  string `json:"mode"`
}

func directiveJSON(d schedule.Directive) DirectiveJSON {
	return DirectiveJSON{
		ID:    d.ID,
		Start: formatTime(d.Start),
		End:   formatTime(d.End),
		Mode:  string(d.Mode),
	}
}

type directiveRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Mode  string `json:"mode"`
}

func (req directiveRequest) parse() (time.Time, time.Time, room.Mode, error) {
	start, err := parseTime("start", req.Start)
	if err != nil {
		return time.Time{}, time.Time{}, "", err
	}
	end, err := parseTime("end", req.End)
	if err != nil {
		return time.Time{}, time.Time{}, "", err
	}
	m, err := room.ParseMode(req.Mode)
	if err != nil {
		return time.Time{}, time.Time{}, "", err
	}
	return start, end, m, nil
}

// presenceRequest optionally carries the arrival or departure time.
type presenceRequest struct {
	At string `json:"at"`
}

// DayUsageJSON is one day of heating, in seconds per local hour.
type DayUsageJSON struct {
	Date         string    `json:"date"`
	TotalSeconds int64     `json:"total_seconds"`
	Hours        [24]int64 `json:"hours"`
}

// MonthUsageJSON is one month of heating, in seconds per day.
type MonthUsageJSON struct {
	Month        string    `json:"month"`
	TotalSeconds int64     `json:"total_seconds"`
	Days         [31]int64 `json:"days"`
}

// YearUsageJSON is one year of heating, in seconds per month.
type YearUsageJSON struct {
	Year         int       `json:"year"`
	TotalSeconds int64     `json:"total_seconds"`
	Months       [12]int64 `json:"months"`
}

// RunJSON is one closed heating interval.
type RunJSON struct {
	Start   string        `json:"start"`
	End     string        `json:"end"`
	Seconds int64         `json:"seconds"`
	Rooms   []RunRoomJSON `json:"rooms"`
}

// RunRoomJSON is a room's state at the edges of a run.
type RunRoomJSON struct {
	Room          string  `json:"room"`
	StartTemp     float64 `json:"start_temperature"`
	EndTemp       float64 `json:"end_temperature"`
	StartHumidity float64 `json:"start_humidity"`
	EndHumidity   float64 `json:"end_humidity"`
	Priority      float64 `json:"priority"`
	Valid         bool    `json:"valid"`
}

func dayUsage(d history.DayRollup) DayUsageJSON {
	return DayUsageJSON{
		Date:         fmt.Sprintf("%04d-%02d-%02d", d.Key.Year, int(d.Key.Month), d.Key.Day),
		TotalSeconds: d.Total,
		Hours:        d.Hours,
	}
}

func monthUsage(m history.MonthRollup) MonthUsageJSON {
	return MonthUsageJSON{
		Month:        fmt.Sprintf("%04d-%02d", m.Key.Year, int(m.Key.Month)),
		TotalSeconds: m.Total,
		Days:         m.Days,
	}
}

func yearUsage(y history.YearRollup) YearUsageJSON {
	return YearUsageJSON{Year: y.Year, TotalSeconds: y.Total, Months: y.Months}
}

func runJSON(r history.RunInterval) RunJSON {
	rj := RunJSON{
		Start:   formatTime(r.Start),
		End:     formatTime(r.End),
		Seconds: int64(r.Duration() / time.Second),
		Rooms:   []RunRoomJSON{},
	}
	for _, s := range r.Rooms {
		rj.Rooms = append(rj.Rooms, RunRoomJSON{
			Room:          s.Name,
			StartTemp:     s.StartTemp,
			EndTemp:       s.EndTemp,
			StartHumidity: s.StartHumidity,
			EndHumidity:   s.EndHumidity,
			Priority:      s.Priority,
			Valid:         s.Valid,
		})
	}
	return rj
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(field, v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", room.ErrInvalid, field, err)
	}
	return t, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
