// Package health отдаёт состояние сервиса: liveness, readiness и подробный
// отчёт по компонентам (база, Redis, Kafka, backlog офлайн-очереди).
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Status представляет статус компонента
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check представляет проверку здоровья компонента
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response представляет ответ health check
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker интерфейс для проверки здоровья компонента
type Checker interface {
	Check() Check
}

// Handler обрабатывает health check запросы
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	startTime time.Time
}

// NewHandler создаёт новый health handler
func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		startTime: time.Now(),
	}
}

// RegisterChecker регистрирует проверку компонента
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

func (h *Handler) snapshotCheckers() map[string]Checker {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checkers := make(map[string]Checker, len(h.checkers))
	for k, v := range h.checkers {
		checkers[k] = v
	}
	return checkers
}

// ServeHTTP обрабатывает HTTP запрос
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	checkers := h.snapshotCheckers()

	checks := make(map[string]Check)
	overallStatus := StatusHealthy

	for name, checker := range checkers {
		check := checker.Check()
		checks[name] = check

		if check.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
		} else if check.Status == StatusDegraded && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	response := Response{
		Status:        overallStatus,
		Timestamp:     time.Now(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	statusCode := http.StatusOK
	if overallStatus == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler простой liveness probe (всегда возвращает 200)
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler проверяет готовность к обработке запросов
func (h *Handler) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	checkers := h.snapshotCheckers()

	// Degraded не блокирует readiness: прилавок продолжает работать
	// при распухшем backlog, но не при отвалившейся базе.
	for _, checker := range checkers {
		check := checker.Check()
		if check.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// SimpleChecker простая проверка с функцией
type SimpleChecker struct {
	name    string
	checkFn func() error
}

// NewSimpleChecker создаёт простую проверку
func NewSimpleChecker(name string, checkFn func() error) *SimpleChecker {
	return &SimpleChecker{
		name:    name,
		checkFn: checkFn,
	}
}

// Check выполняет проверку
func (c *SimpleChecker) Check() Check {
	start := time.Now()
	err := c.checkFn()
	duration := time.Since(start)

	if err != nil {
		return Check{
			Name:       c.name,
			Status:     StatusUnhealthy,
			Message:    err.Error(),
			DurationMs: duration.Milliseconds(),
		}
	}

	return Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: duration.Milliseconds(),
	}
}

// SyncBacklogChecker оценивает backlog офлайн-очереди. Большой pending или
// dead-letter элементы деградируют статус, недоступность хранилища — unhealthy.
type SyncBacklogChecker struct {
	queue          domain.SyncQueueRepository
	maxPending     int
	maxPendingAge  time.Duration
	alertOnFailure bool
}

// NewSyncBacklogChecker создаёт проверку backlog очереди синхронизации.
func NewSyncBacklogChecker(queue domain.SyncQueueRepository, maxPending int, maxPendingAge time.Duration) *SyncBacklogChecker {
	if maxPending <= 0 {
		maxPending = 1000
	}
	if maxPendingAge <= 0 {
		maxPendingAge = time.Hour
	}
	return &SyncBacklogChecker{
		queue:          queue,
		maxPending:     maxPending,
		maxPendingAge:  maxPendingAge,
		alertOnFailure: true,
	}
}

// Check выполняет проверку backlog.
func (c *SyncBacklogChecker) Check() Check {
	start := time.Now()

	stats, err := c.queue.Stats()
	duration := time.Since(start)
	if err != nil {
		return Check{
			Name:       "sync_queue",
			Status:     StatusUnhealthy,
			Message:    err.Error(),
			DurationMs: duration.Milliseconds(),
		}
	}

	status := StatusHealthy
	message := ""

	// Processing-элементы тоже backlog: до завершения прохода (или возврата
	// через ReclaimStale) они ещё не доехали до сервера.
	backlog := stats.PendingCount + stats.ProcessingCount

	switch {
	case backlog > c.maxPending:
		status = StatusDegraded
		message = fmt.Sprintf("pending backlog %d exceeds %d", backlog, c.maxPending)
	case !stats.OldestPendingAt.IsZero() && time.Since(stats.OldestPendingAt) > c.maxPendingAge:
		status = StatusDegraded
		message = fmt.Sprintf("oldest pending item is %s old", time.Since(stats.OldestPendingAt).Truncate(time.Second))
	case c.alertOnFailure && stats.FailedCount > 0:
		status = StatusDegraded
		message = fmt.Sprintf("%d items in dead-letter", stats.FailedCount)
	}

	return Check{
		Name:       "sync_queue",
		Status:     status,
		Message:    message,
		DurationMs: duration.Milliseconds(),
	}
}
