package opt

import "sync"

type key struct {
	UserID   string
	PlanDate string
}

var (
	mu    sync.Mutex
	store = map[key]Metrics{}
)

// RecordMetrics keeps the latest solve metrics per user/day for the admin
// plan-metrics endpoint.
func RecordMetrics(userID, planDate string, m Metrics) {
	mu.Lock()
	store[key{UserID: userID, PlanDate: planDate}] = m
	mu.Unlock()
}

func GetMetrics(userID, planDate string) (Metrics, bool) {
	mu.Lock()
	defer mu.Unlock()
	m, ok := store[key{UserID: userID, PlanDate: planDate}]
	return m, ok
}
