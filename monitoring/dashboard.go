package monitoring

import (
	"encoding/json"
	"net/http"
	"time"

	"encore.app/pkg/middleware"
)

// DashboardData is the raw JSON payload served to dashboard frontends.
type DashboardData struct {
	GeneratedAt   time.Time   `json:"generated_at"`
	UptimeSeconds float64     `json:"uptime_seconds"`
	Window        WindowStats `json:"window"` // last 5 minutes
	Lifetime      Counters    `json:"lifetime"`
	ActiveAlerts  []Alert     `json:"active_alerts"`
}

// Dashboard serves a single-shot overview for polling dashboards. It is a
// raw endpoint so the request logging middleware can wrap it and propagate
// correlation IDs to the frontend.
//
//encore:api public raw path=/monitoring/dashboard
func Dashboard(w http.ResponseWriter, req *http.Request) {
	middleware.RequestLogger(http.HandlerFunc(serveDashboard)).ServeHTTP(w, req)
}

func serveDashboard(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := initService(); err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	now := time.Now()
	data := DashboardData{
		GeneratedAt:   now,
		UptimeSeconds: now.Sub(svc.startedAt).Seconds(),
		Window:        svc.aggregator.Window(now.Add(-5*time.Minute), now),
		Lifetime:      svc.collector.GetCounters(),
		ActiveAlerts:  svc.alerts.GetActive(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "encoding failed", http.StatusInternalServerError)
	}
}
