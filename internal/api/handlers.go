package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/directory"
)

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errInvalidBody
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errInvalidID
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errInvalidPage
	}
	return n, nil
}

// caller is set by Authenticate for every route that reaches a handler.
func caller(r *http.Request) *directory.User {
	u, _ := CallerFromContext(r.Context())
	return u
}

func bookAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		appt, err := svc.Book(r.Context(), caller(r), appointment.BookRequest{
			DoctorID:   req.DoctorID,
			ScheduleID: req.ScheduleID,
			Reason:     req.Reason,
			Mode:       appointment.Mode(req.Mode),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, appt)
	}
}

func updateAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "id")
		if err != nil {
			writeError(w, r, err)
			return
		}

		var req UpdateAppointmentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		appt, err := svc.UpdateStatus(r.Context(), caller(r), id, appointment.StatusUpdate{
			Status: appointment.Status(req.Status),
			Reason: req.Reason,
			Notes:  req.Notes,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, appt)
	}
}

func deleteAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "id")
		if err != nil {
			writeError(w, r, err)
			return
		}

		if err := svc.Remove(r.Context(), caller(r), id); err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, MessageResponse{Message: "Appointment deleted successfully"})
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "id")
		if err != nil {
			writeError(w, r, err)
			return
		}

		detail, err := svc.Get(r.Context(), caller(r), id)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, detail)
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, err := directory.ParseRole(chi.URLParam(r, "role"))
		if err != nil {
			writeError(w, r, appointment.ErrInvalidRole)
			return
		}
		userID, err := pathUUID(r, "userId")
		if err != nil {
			writeError(w, r, err)
			return
		}
		limit, err := queryInt(r, "limit")
		if err != nil {
			writeError(w, r, err)
			return
		}
		offset, err := queryInt(r, "offset")
		if err != nil {
			writeError(w, r, err)
			return
		}

		list, err := svc.ListForRole(r.Context(), caller(r), role, userID, limit, offset)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, list)
	}
}
