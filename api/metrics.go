package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/emna-belhajltaief/smart-task-manager/board"
)

const (
	tracerName       = "github.com/emna-belhajltaief/smart-task-manager/api"
	boardSpanName    = "taskflow.board.request"
	boardEventName   = "board.request"
	boardEventDomain = "taskflow.board"
	observabilityMsg = "observability.event"
)

// boardRequestMetrics traces one ordering request and emits a single
// observability event when it completes.
type boardRequestMetrics struct {
	logger          *log.Logger
	span            trace.Span
	start           time.Time
	route           string
	command         string
	authDuration    time.Duration
	loadDuration    time.Duration
	persistDuration time.Duration
	listsChanged    int
	tasksChanged    int
	applied         bool
	rolledBack      bool
	replayed        bool
	errorStage      string
}

func newBoardRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*boardRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, boardSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &boardRequestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		route:  route,
	}, spanCtx
}

func (m *boardRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *boardRequestMetrics) ObserveLoad(d time.Duration) {
	if d > 0 {
		m.loadDuration = d
	}
}

func (m *boardRequestMetrics) ObservePersist(d time.Duration) {
	if d > 0 {
		m.persistDuration = d
	}
}

func (m *boardRequestMetrics) SetCommand(name string) {
	m.command = name
}

func (m *boardRequestMetrics) SetResult(res board.Result, applied bool) {
	m.applied = applied
	m.listsChanged = len(res.Change.Lists)
	m.tasksChanged = len(res.Change.Tasks)
	m.rolledBack = res.RolledBack
}

func (m *boardRequestMetrics) SetReplayed() {
	m.replayed = true
}

func (m *boardRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

func (m *boardRequestMetrics) attributes(status int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.Int("http.status_code", status),
		attribute.Float64("taskflow.board.total_ms", durationToMillis(time.Since(m.start))),
		attribute.Bool("taskflow.board.applied", m.applied),
		attribute.Bool("taskflow.board.rolled_back", m.rolledBack),
		attribute.Bool("taskflow.board.replayed", m.replayed),
		attribute.Int("taskflow.board.lists_changed", m.listsChanged),
		attribute.Int("taskflow.board.tasks_changed", m.tasksChanged),
	}
	if m.command != "" {
		attrs = append(attrs, attribute.String("taskflow.board.command", m.command))
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("taskflow.board.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.loadDuration > 0 {
		attrs = append(attrs, attribute.Float64("taskflow.board.load_ms", durationToMillis(m.loadDuration)))
	}
	if m.persistDuration > 0 {
		attrs = append(attrs, attribute.Float64("taskflow.board.persist_ms", durationToMillis(m.persistDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("taskflow.board.error_stage", m.errorStage))
	}
	return attrs
}

// Log ends the span and logs the observability event.
func (m *boardRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	attrs := m.attributes(status)
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}
	severityText, severityNumber := severityForStatus(status, err)

	switch {
	case err != nil:
		m.span.SetStatus(codes.Error, err.Error())
	case status >= http.StatusInternalServerError:
		m.span.SetStatus(codes.Error, http.StatusText(status))
	default:
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.SetAttributes(attrs...)

	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", boardEventName),
		attribute.String("event.domain", boardEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)
	m.span.AddEvent(observabilityMsg, trace.WithAttributes(eventAttrs...))

	if m.logger != nil {
		fields := log.Fields{
			"event.name":      boardEventName,
			"event.domain":    boardEventDomain,
			"severity_text":   severityText,
			"severity_number": severityNumber,
			"attributes":      attributesToFields(attrs),
		}
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
		m.logger.WithFields(fields).Log(levelForSeverity(severityText), observabilityMsg)
	}
	m.span.End()
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func levelForSeverity(text string) log.Level {
	switch text {
	case "ERROR":
		return log.ErrorLevel
	case "WARN":
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func attributesToFields(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
