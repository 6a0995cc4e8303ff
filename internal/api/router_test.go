package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointments/internal/apperr"
	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/directory"
	"github.com/hackgods/clinic-appointments/internal/observability/metrics"
	"github.com/hackgods/clinic-appointments/internal/prescription"
	"github.com/hackgods/clinic-appointments/internal/schedule"
	"github.com/hackgods/clinic-appointments/internal/store/memory"
)

var (
	testSecret = []byte("test-secret")
	fixedNow   = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	store   *memory.Store
	doctor  *directory.User
	patient *directory.User
	other   *directory.User
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	now := func() time.Time { return fixedNow }
	store := memory.New()

	ts := &testServer{
		t:       t,
		store:   store,
		doctor:  directory.NewDoctor("Dr. Reid", "reid@example.com", "ENT", true),
		patient: directory.NewPatient("Pat Lee", "pat@example.com", nil),
		other:   directory.NewPatient("Sam Ray", "sam@example.com", nil),
	}
	for _, u := range []*directory.User{ts.doctor, ts.patient, ts.other} {
		require.NoError(t, store.Users().CreateUser(context.Background(), u))
	}

	schedules := schedule.NewService(store.Schedules(), store, nil, schedule.WithClock(now))
	ts.handler = NewRouter(RouterConfig{
		Schedules: schedules,
		Appointments: appointment.NewService(appointment.Deps{
			Repo:  store.Appointments(),
			Slots: schedules,
			Users: store.Users(),
			Tx:    store,
			Now:   now,
		}),
		Prescriptions: prescription.NewService(prescription.Deps{
			Repo:         store.Prescriptions(),
			Appointments: store.Appointments(),
			Tx:           store,
			Now:          now,
		}),
		Users:     store.Users(),
		JWTSecret: testSecret,
		Metrics:   metrics.NewHTTPMetrics(prometheus.NewRegistry()),
		Gatherer:  prometheus.NewRegistry(),
	})
	return ts
}

func (ts *testServer) do(user *directory.User, method, path string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != nil {
		token, err := IssueToken(testSecret, user.ID, time.Hour)
		require.NoError(ts.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (ts *testServer) declareSlot(start time.Time) schedule.Slot {
	ts.t.Helper()
	rec := ts.do(ts.doctor, http.MethodPost, "/schedules", ScheduleRequest{StartTime: start, EndTime: start.Add(30 * time.Minute)})
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[schedule.Slot](ts.t, rec)
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(nil, http.MethodGet, "/schedules/doctor/"+ts.doctor.ID.String(), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperr.CodeAuthentication, decode[ErrorResponse](t, rec).Code)

	req := httptest.NewRequest(http.MethodGet, "/schedules/doctor/"+ts.doctor.ID.String(), nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	stranger := directory.NewPatient("Ghost", "ghost@example.com", nil)
	rec = ts.do(stranger, http.MethodGet, "/schedules/doctor/"+ts.doctor.ID.String(), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	inactive := directory.NewPatient("Idle", "idle@example.com", nil)
	inactive.Active = false
	require.NoError(t, ts.store.Users().CreateUser(context.Background(), inactive))
	rec = ts.do(inactive, http.MethodGet, "/schedules/doctor/"+ts.doctor.ID.String(), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(ts.patient, http.MethodGet, "/schedules/doctor/"+ts.doctor.ID.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBookingToPrescriptionFlow(t *testing.T) {
	ts := newTestServer(t)
	start := time.Date(2025, 4, 7, 9, 0, 0, 0, time.UTC)
	slot := ts.declareSlot(start)

	rec := ts.do(ts.patient, http.MethodGet, "/schedules/doctor/"+ts.doctor.ID.String()+"/available?date=2025-04-07", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	groups := decode[[]schedule.DayGroup](t, rec)
	require.Len(t, groups, 1)
	assert.Equal(t, "2025-04-07", groups[0].Date)

	rec = ts.do(ts.patient, http.MethodPost, "/appointments", BookAppointmentRequest{
		DoctorID: ts.doctor.ID, ScheduleID: slot.ID, Reason: "sinus pain",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[appointment.Appointment](t, rec)
	assert.Equal(t, appointment.StatusPending, appt.Status)

	rec = ts.do(ts.other, http.MethodPost, "/appointments", BookAppointmentRequest{
		DoctorID: ts.doctor.ID, ScheduleID: slot.ID, Reason: "also sinus",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, schedule.ErrSlotUnavailable.Message, decode[ErrorResponse](t, rec).Error)

	for _, status := range []string{"confirmed", "completed"} {
		rec = ts.do(ts.doctor, http.MethodPut, "/appointments/"+appt.ID.String(), UpdateAppointmentRequest{Status: status})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	body := map[string]any{
		"appointmentId": appt.ID,
		"medications":   []prescription.Medication{{Name: "Amoxicillin", Dosage: "500mg", Frequency: "twice daily", Duration: "7 days"}},
		"diagnosis":     "Sinusitis",
		"expiryDate":    "2025-05-07",
	}
	rec = ts.do(ts.doctor, http.MethodPost, "/prescriptions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rx := decode[prescription.Prescription](t, rec)
	assert.Equal(t, prescription.StatusActive, rx.Status)

	rec = ts.do(ts.doctor, http.MethodPost, "/prescriptions", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeDuplicatePrescription, decode[ErrorResponse](t, rec).Code)

	rec = ts.do(ts.patient, http.MethodGet, "/appointments/"+appt.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[appointment.Detail](t, rec)
	assert.True(t, detail.HasPrescription)
	assert.Equal(t, "Dr. Reid", detail.DoctorName)

	rec = ts.do(ts.patient, http.MethodGet, "/prescriptions/patient/"+ts.patient.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]prescription.Prescription](t, rec), 1)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	slot := ts.declareSlot(time.Date(2025, 4, 7, 9, 0, 0, 0, time.UTC))

	tests := []struct {
		name   string
		user   *directory.User
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"doctor cannot book", ts.doctor, http.MethodPost, "/appointments",
			BookAppointmentRequest{DoctorID: ts.doctor.ID, ScheduleID: slot.ID, Reason: "x"}, http.StatusForbidden, apperr.CodeAuthorization},
		{"missing fields", ts.patient, http.MethodPost, "/appointments",
			BookAppointmentRequest{DoctorID: ts.doctor.ID}, http.StatusBadRequest, apperr.CodeValidation},
		{"malformed body", ts.patient, http.MethodPost, "/appointments", "not an object", http.StatusBadRequest, apperr.CodeValidation},
		{"bad id", ts.patient, http.MethodGet, "/appointments/nope", nil, http.StatusBadRequest, apperr.CodeValidation},
		{"unknown appointment", ts.patient, http.MethodGet, "/appointments/" + uuid.NewString(), nil, http.StatusNotFound, apperr.CodeNotFound},
		{"bad role", ts.patient, http.MethodGet, "/appointments/nurse/" + ts.patient.ID.String(), nil, http.StatusBadRequest, apperr.CodeValidation},
		{"bad paging", ts.patient, http.MethodGet, "/appointments/patient/" + ts.patient.ID.String() + "?limit=-1", nil, http.StatusBadRequest, apperr.CodeValidation},
		{"overlapping slot", ts.doctor, http.MethodPost, "/schedules",
			ScheduleRequest{StartTime: slot.Start.Add(10 * time.Minute), EndTime: slot.End.Add(10 * time.Minute)}, http.StatusBadRequest, apperr.CodeConflict},
		{"missing times", ts.doctor, http.MethodPost, "/schedules", ScheduleRequest{}, http.StatusBadRequest, apperr.CodeValidation},
		{"bad date filter", ts.patient, http.MethodGet, "/schedules/doctor/" + ts.doctor.ID.String() + "/available?date=07-04-2025", nil, http.StatusBadRequest, apperr.CodeValidation},
		{"patient cannot prescribe", ts.patient, http.MethodPost, "/prescriptions", map[string]any{}, http.StatusForbidden, apperr.CodeAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(tt.user, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestExhaustedRetriesReportTransactionError(t *testing.T) {
	ts := newTestServer(t)
	slot := ts.declareSlot(time.Date(2025, 4, 7, 9, 0, 0, 0, time.UTC))

	ts.store.InjectWriteConflicts(100)
	rec := ts.do(ts.patient, http.MethodPost, "/appointments", BookAppointmentRequest{
		DoctorID: ts.doctor.ID, ScheduleID: slot.ID, Reason: "checkup",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, apperr.CodeTransaction, resp.Code)
	assert.Equal(t, "transaction failed after multiple attempts", resp.Error)
}

func TestDeleteEndpoints(t *testing.T) {
	ts := newTestServer(t)
	slot := ts.declareSlot(time.Date(2025, 4, 7, 9, 0, 0, 0, time.UTC))

	rec := ts.do(ts.patient, http.MethodPost, "/appointments", BookAppointmentRequest{
		DoctorID: ts.doctor.ID, ScheduleID: slot.ID, Reason: "checkup",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	appt := decode[appointment.Appointment](t, rec)

	rec = ts.do(ts.doctor, http.MethodDelete, "/schedules/"+slot.ID.String(), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(ts.patient, http.MethodDelete, "/appointments/"+appt.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Appointment deleted successfully", decode[MessageResponse](t, rec).Message)

	rec = ts.do(ts.doctor, http.MethodDelete, "/schedules/"+slot.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Schedule deleted successfully", decode[MessageResponse](t, rec).Message)
}

func TestWriteErrorHidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)

	writeError(rec, req, errors.New("dial tcp 10.0.0.1:5432: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, apperr.CodeInternal, resp.Code)
	assert.NotContains(t, resp.Error, "10.0.0.1")
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadiness(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	healthy := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("down") })

	tests := []struct {
		name   string
		pg     Pinger
		redis  *redis.Client
		status int
		want   string
	}{
		{"all up", healthy, client, http.StatusOK, "ok"},
		{"memory backend", nil, nil, http.StatusOK, "ok"},
		{"postgres down", down, client, http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.pg, tt.redis, "test", "v0")
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.want, decode[ReadinessResponse](t, rec).Status)
		})
	}

	t.Run("redis down degrades", func(t *testing.T) {
		mr2, err := miniredis.Run()
		require.NoError(t, err)
		c2 := redis.NewClient(&redis.Options{Addr: mr2.Addr(), MaxRetries: -1})
		t.Cleanup(func() { _ = c2.Close() })
		mr2.Close()

		h := NewHealthHandler(healthy, c2, "test", "v0")
		rec := httptest.NewRecorder()
		h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		resp := decode[ReadinessResponse](t, rec)
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "down", resp.Dependencies["redis"])
	})
}
