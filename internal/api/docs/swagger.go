package docs

import (
	"github.com/go-swagno/swagno"
	"github.com/go-swagno/swagno/components/endpoint"
	"github.com/go-swagno/swagno/components/http/response"
	"github.com/go-swagno/swagno/components/mime"
	"github.com/go-swagno/swagno/components/parameter"
)

// SessionResponse represents a capture session
type SessionResponse struct {
	SessionID   string `json:"session_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Phase       string `json:"phase" example:"awaiting_face"`
	Gesture     string `json:"gesture" example:"blink"`
	Prompt      string `json:"prompt" example:"Please blink"`
	RetryCount  int    `json:"retry_count" example:"0"`
	Status      string `json:"status" example:"Please show your face in the frame"`
	HasStill    bool   `json:"has_still" example:"false"`
	HasClip     bool   `json:"has_clip" example:"false"`
	Live        bool   `json:"live" example:"true"`
	CountdownMs int64  `json:"countdown_ms,omitempty" example:"1500"`
	RecordMs    int64  `json:"record_ms,omitempty" example:"5000"`
	CreatedAt   string `json:"created_at" example:"2024-01-01T00:00:00Z"`
	UpdatedAt   string `json:"updated_at" example:"2024-01-01T00:00:05Z"`
	FinishedAt  string `json:"finished_at,omitempty" example:"2024-01-01T00:01:00Z"`
	StreamPath  string `json:"stream_path,omitempty" example:"/v1/sessions/550e8400-e29b-41d4-a716-446655440000/ws"`
}

// AttemptResponse is one remote verification call
type AttemptResponse struct {
	Kind      string `json:"kind" example:"liveness"`
	Attempt   int    `json:"attempt" example:"1"`
	Passed    bool   `json:"passed" example:"true"`
	Error     string `json:"error,omitempty" example:""`
	LatencyMs int64  `json:"latency_ms" example:"840"`
	CreatedAt string `json:"created_at" example:"2024-01-01T00:00:10Z"`
}

// AttemptsResponse lists the attempts of a session
type AttemptsResponse struct {
	SessionID string            `json:"session_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Attempts  []AttemptResponse `json:"attempts"`
}

// AttemptStats summarizes verification calls of one kind
type AttemptStats struct {
	Kind         string  `json:"kind" example:"liveness"`
	Total        int64   `json:"total" example:"120"`
	Passed       int64   `json:"passed" example:"96"`
	Errored      int64   `json:"errored" example:"2"`
	PassRate     float64 `json:"pass_rate" example:"0.8"`
	AvgLatencyMs float64 `json:"avg_latency_ms" example:"850.5"`
	P99LatencyMs float64 `json:"p99_latency_ms" example:"2400"`
}

// SessionStats counts sessions by outcome
type SessionStats struct {
	Started     int64   `json:"started" example:"100"`
	Succeeded   int64   `json:"succeeded" example:"80"`
	Failed      int64   `json:"failed" example:"10"`
	Abandoned   int64   `json:"abandoned" example:"6"`
	InProgress  int64   `json:"in_progress" example:"4"`
	SuccessRate float64 `json:"success_rate" example:"0.888"`
	AvgRetries  float64 `json:"avg_retries" example:"0.4"`
}

// MetricsResponse is the verification metrics snapshot
type MetricsResponse struct {
	Window       string         `json:"window" example:"24h0m0s"`
	Since        string         `json:"since" example:"2024-01-01T00:00:00Z"`
	GeneratedAt  string         `json:"generated_at" example:"2024-01-02T00:00:00Z"`
	LiveSessions int            `json:"live_sessions" example:"3"`
	Sessions     SessionStats   `json:"sessions"`
	Attempts     []AttemptStats `json:"attempts"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Code    string `json:"code" example:"VALIDATION_FAILED"`
	Message string `json:"message" example:"Request validation failed"`
}

// EmptyResponse represents no content response (204)
type EmptyResponse struct{}

// HealthResponse represents a health or readiness probe
type HealthResponse struct {
	Status       string `json:"status" example:"ok"`
	Version      string `json:"version,omitempty" example:"0.1.0"`
	LiveSessions int    `json:"live_sessions,omitempty" example:"3"`
}

var (
	unauthorized = response.New(ErrorResponse{Code: "UNAUTHORIZED", Message: "Invalid or missing API key"}, "401", "Unauthorized")
	notFound     = response.New(ErrorResponse{Code: "SESSION_NOT_FOUND", Message: "Capture session not found or already closed"}, "404", "Not Found")
	rateLimited  = response.New(ErrorResponse{Code: "RATE_LIMIT_EXCEEDED", Message: "Rate limit exceeded, please try again later"}, "429", "Too Many Requests")
	internal     = response.New(ErrorResponse{Code: "INTERNAL_ERROR", Message: "An unexpected error occurred"}, "500", "Internal Server Error")
	apiKeyAuth   = []map[string][]string{{"ApiKeyAuth": {}}}
)

// NewSwagger creates and configures the Swagger documentation
func NewSwagger() *swagno.Swagger {
	sw := swagno.New(swagno.Config{
		Title:       "eKYC Capture API",
		Version:     "v1.0.0",
		Description: "Guided face capture with face matching and gesture liveness verification",
		Host:        "localhost:3000",
		Path:        "/v1",
	})

	endpoints := []*endpoint.EndPoint{
		// POST /v1/sessions - Create Session
		endpoint.New(
			endpoint.POST,
			"/sessions",
			endpoint.WithTags("Sessions"),
			endpoint.WithSummary("Open a capture session"),
			endpoint.WithDescription("Starts a capture flow. Form fields: gesture (blink, mouth, yaw, nod; default blink), reference_image (JPEG or PNG, optional with the mock matcher), supported_types (comma separated recording MIME types)."),
			endpoint.WithConsume([]mime.MIME{mime.MIME("multipart/form-data")}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(SessionResponse{}, "201", "Session created"),
			}),
			endpoint.WithErrors([]response.Response{
				unauthorized,
				response.New(ErrorResponse{Code: "INVALID_GESTURE", Message: "Gesture must be one of blink, mouth, yaw, nod"}, "422", "Unprocessable Entity"),
				response.New(ErrorResponse{Code: "INVALID_IMAGE", Message: "Invalid image format or corrupted file"}, "422", "Unprocessable Entity"),
				response.New(ErrorResponse{Code: "SESSION_LIMIT", Message: "Too many live capture sessions, try again later"}, "429", "Too Many Requests"),
				internal,
			}),
			endpoint.WithSecurity(apiKeyAuth),
		),

		// GET /v1/sessions/:id - Get Session
		endpoint.New(
			endpoint.GET,
			"/sessions/{id}",
			endpoint.WithTags("Sessions"),
			endpoint.WithSummary("Get session state"),
			endpoint.WithDescription("Returns the live state of a running session, or the stored record of a finished one"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(parameter.StrParam("id", parameter.Path, parameter.WithDescription("Session ID (UUID)"))),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(SessionResponse{}, "200", "Session state"),
			}),
			endpoint.WithErrors([]response.Response{unauthorized, notFound, rateLimited, internal}),
			endpoint.WithSecurity(apiKeyAuth),
		),

		// PUT /v1/sessions/:id/gesture - Select Gesture
		endpoint.New(
			endpoint.PUT,
			"/sessions/{id}/gesture",
			endpoint.WithTags("Sessions"),
			endpoint.WithSummary("Select the liveness gesture"),
			endpoint.WithDescription("Body: {\"gesture\": \"nod\"}. Allowed until the face is detected and capturing starts."),
			endpoint.WithConsume([]mime.MIME{mime.JSON}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(parameter.StrParam("id", parameter.Path, parameter.WithDescription("Session ID (UUID)"))),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(SessionResponse{}, "200", "Gesture updated"),
			}),
			endpoint.WithErrors([]response.Response{
				unauthorized,
				notFound,
				response.New(ErrorResponse{Code: "GESTURE_LOCKED", Message: "Gesture can only be changed before the capture starts"}, "409", "Conflict"),
				response.New(ErrorResponse{Code: "INVALID_GESTURE", Message: "Gesture must be one of blink, mouth, yaw, nod"}, "422", "Unprocessable Entity"),
				internal,
			}),
			endpoint.WithSecurity(apiKeyAuth),
		),

		// POST /v1/sessions/:id/countdown - Countdown Complete
		endpoint.New(
			endpoint.POST,
			"/sessions/{id}/countdown",
			endpoint.WithTags("Sessions"),
			endpoint.WithSummary("Signal the end of the countdown"),
			endpoint.WithDescription("Starts recording when the session is awaiting the gesture countdown, ignored otherwise. The same signal can be sent over the WebSocket as countdown.complete."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(parameter.StrParam("id", parameter.Path, parameter.WithDescription("Session ID (UUID)"))),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(SessionResponse{}, "202", "Signal accepted"),
			}),
			endpoint.WithErrors([]response.Response{
				unauthorized,
				notFound,
				response.New(ErrorResponse{Code: "SESSION_TERMINAL", Message: "Capture session has already finished"}, "409", "Conflict"),
				internal,
			}),
			endpoint.WithSecurity(apiKeyAuth),
		),

		// GET /v1/sessions/:id/attempts - List Attempts
		endpoint.New(
			endpoint.GET,
			"/sessions/{id}/attempts",
			endpoint.WithTags("Sessions"),
			endpoint.WithSummary("List verification attempts"),
			endpoint.WithDescription("Face match and liveness calls of the session, oldest first"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(parameter.StrParam("id", parameter.Path, parameter.WithDescription("Session ID (UUID)"))),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(AttemptsResponse{}, "200", "Attempts"),
			}),
			endpoint.WithErrors([]response.Response{unauthorized, notFound, internal}),
			endpoint.WithSecurity(apiKeyAuth),
		),

		// DELETE /v1/sessions/:id - Close Session
		endpoint.New(
			endpoint.DELETE,
			"/sessions/{id}",
			endpoint.WithTags("Sessions"),
			endpoint.WithSummary("Close a session"),
			endpoint.WithDescription("Stops the capture flow. A session that had not finished is recorded as abandoned."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(parameter.StrParam("id", parameter.Path, parameter.WithDescription("Session ID (UUID)"))),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(EmptyResponse{}, "204", "Session closed"),
			}),
			endpoint.WithErrors([]response.Response{
				unauthorized,
				notFound,
				response.New(ErrorResponse{Code: "SESSION_TERMINAL", Message: "Capture session has already finished"}, "409", "Conflict"),
				internal,
			}),
			endpoint.WithSecurity(apiKeyAuth),
		),

		// GET /v1/sessions/:id/ws - Session Stream
		endpoint.New(
			endpoint.GET,
			"/sessions/{id}/ws",
			endpoint.WithTags("Stream"),
			endpoint.WithSummary("WebSocket for frames and recording"),
			endpoint.WithDescription("Binary messages tagged 0x01 carry camera frames, 0x02 recorder segments. Text messages carry countdown.complete and recorder.flushed. The server sends session.state, recorder.start and recorder.stop. Authenticate with the api_key query parameter."),
			endpoint.WithParams(
				parameter.StrParam("id", parameter.Path, parameter.WithDescription("Session ID (UUID)")),
				parameter.StrParam("api_key", parameter.Query, parameter.WithDescription("Service API key")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(EmptyResponse{}, "101", "Switching Protocols"),
			}),
			endpoint.WithErrors([]response.Response{
				unauthorized,
				response.New(ErrorResponse{Code: "HTTP_ERROR", Message: "Upgrade Required"}, "426", "Upgrade Required"),
			}),
		),

		// GET /v1/metrics - Verification metrics
		endpoint.New(
			endpoint.GET,
			"/v1/metrics",
			endpoint.WithTags("Metrics"),
			endpoint.WithSummary("Verification metrics"),
			endpoint.WithDescription("Session outcomes and per-check pass rates and latencies over the trailing window, refreshed periodically."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(MetricsResponse{}, "200", "OK"),
			}),
			endpoint.WithErrors([]response.Response{unauthorized, rateLimited, internal}),
			endpoint.WithSecurity(apiKeyAuth),
		),

		// GET /health - Liveness probe
		endpoint.New(
			endpoint.GET,
			"/health",
			endpoint.WithTags("Health"),
			endpoint.WithSummary("Process health"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(HealthResponse{}, "200", "Healthy"),
			}),
		),

		// GET /ready - Readiness probe
		endpoint.New(
			endpoint.GET,
			"/ready",
			endpoint.WithTags("Health"),
			endpoint.WithSummary("Readiness including database"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(HealthResponse{Status: "ready"}, "200", "Ready"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(HealthResponse{Status: "unavailable"}, "503", "Service Unavailable"),
			}),
		),
	}

	sw.AddEndpoints(endpoints)

	return sw
}
