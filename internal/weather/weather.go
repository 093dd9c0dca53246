package weather

import (
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"bus-tracker/internal/fleet"
)

// Local is the coarse condition used by the ETA speed heuristic.
type Local struct {
	Temperature int    `json:"temperature"`
	Condition   string `json:"condition"`
	Icon        string `json:"icon"`
}

type StopWeather struct {
	StopName        string   `json:"stop_name"`
	Temp            float64  `json:"temp"`
	FeelsLike       float64  `json:"feels_like"`
	Humidity        float64  `json:"humidity"`
	WindSpeed       float64  `json:"wind_speed"`
	Main            string   `json:"main"`
	Description     string   `json:"description"`
	Icon            string   `json:"icon"`
	Recommendations []string `json:"recommendations"`
}

type Report struct {
	Stops  []StopWeather `json:"stops"`
	Common []string      `json:"common_recommendations"`
}

// Simulator produces plausible weather without an external feed. All
// randomness goes through one source so tests can seed it.
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulator(seed int64) *Simulator {
	return &Simulator{rng: rand.New(rand.NewSource(seed))}
}

func (s *Simulator) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Simulator) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// Local derives a condition from the season and adjusts a 25°C base by
// time of day, plus up to ±2.5°C noise.
func (s *Simulator) Local(now time.Time) Local {
	temp := 25.0
	h := now.Hour()
	switch {
	case h >= 6 && h < 12:
		temp += 5
	case h >= 12 && h < 18:
		temp += 10
	case h >= 18 && h < 22:
		temp += 2
	default:
		temp -= 5
	}

	// month index follows the zero-based calendar month
	month := int(now.Month()) - 1
	var condition string
	switch {
	case month >= 3 && month <= 5:
		temp += 5
		condition = "Sunny"
	case month >= 6 && month <= 8:
		temp += 10
		condition = "Hot"
	case month >= 9 && month <= 11:
		temp -= 2
		condition = "Cloudy"
	default:
		temp -= 5
		condition = "Cool"
	}
	temp += s.float()*5 - 2.5
	return Local{Temperature: int(math.Round(temp)), Condition: condition, Icon: Icon(condition)}
}

func Icon(condition string) string {
	switch strings.ToLower(condition) {
	case "sunny":
		return "sunny"
	case "hot":
		return "flame"
	case "cloudy":
		return "cloud"
	case "cool":
		return "snow"
	default:
		return "partly-sunny"
	}
}

var skies = []struct{ main, description, icon string }{
	{"Clear", "clear sky", "01d"},
	{"Clouds", "few clouds", "02d"},
	{"Clouds", "scattered clouds", "03d"},
}

// ForStops simulates weather at each stop and the recommendations shared
// by at least half of them.
func (s *Simulator) ForStops(stops []fleet.RouteStop) Report {
	out := Report{Stops: make([]StopWeather, 0, len(stops))}
	for _, st := range stops {
		temp := 25 + s.float()*5
		sky := skies[s.intn(len(skies))]
		w := StopWeather{
			StopName:    st.StopName,
			Temp:        temp,
			FeelsLike:   temp + (s.float()*2 - 1),
			Humidity:    50 + s.float()*20,
			WindSpeed:   2 + s.float()*3,
			Main:        sky.main,
			Description: sky.description,
			Icon:        sky.icon,
		}
		w.Recommendations = Recommendations(w)
		out.Stops = append(out.Stops, w)
	}
	out.Common = Common(out.Stops)
	return out
}

func Recommendations(w StopWeather) []string {
	var recs []string
	switch {
	case w.Temp < 25:
		recs = append(recs, "Pleasant weather")
	case w.Temp > 28:
		recs = append(recs, "Wear light clothing", "Stay hydrated")
	}
	if w.Humidity > 60 {
		recs = append(recs, "Humid conditions")
	}
	if w.WindSpeed > 4 {
		recs = append(recs, "Windy conditions")
	}
	main := strings.ToLower(w.Main)
	switch {
	case strings.Contains(main, "clear"):
		recs = append(recs, "Carry sunglasses")
	case strings.Contains(main, "clouds"):
		recs = append(recs, "Pleasant outdoor conditions")
	}
	return recs
}

// Common returns recommendations present at ceil(50%) of stops or more,
// sorted for stable output.
func Common(stops []StopWeather) []string {
	if len(stops) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, st := range stops {
		for _, r := range st.Recommendations {
			counts[r]++
		}
	}
	threshold := int(math.Ceil(float64(len(stops)) * 0.5))
	var out []string
	for r, n := range counts {
		if n >= threshold {
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}
