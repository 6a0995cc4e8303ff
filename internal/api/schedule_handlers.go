package api

import (
	"net/http"

	"github.com/hackgods/clinic-appointments/internal/schedule"
)

func decodeScheduleRequest(r *http.Request) (ScheduleRequest, error) {
	var req ScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		return req, err
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		return req, errMissingTimes
	}
	return req, nil
}

func createScheduleHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeScheduleRequest(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		slot, err := svc.Declare(r.Context(), caller(r), req.StartTime, req.EndTime)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, slot)
	}
}

func updateScheduleHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		req, err := decodeScheduleRequest(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		slot, err := svc.Update(r.Context(), caller(r), id, req.StartTime, req.EndTime)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, slot)
	}
}

func deleteScheduleHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "id")
		if err != nil {
			writeError(w, r, err)
			return
		}

		if err := svc.Delete(r.Context(), caller(r), id); err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, MessageResponse{Message: "Schedule deleted successfully"})
	}
}

func listAvailableHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := pathUUID(r, "id")
		if err != nil {
			writeError(w, r, err)
			return
		}

		groups, err := svc.ListAvailable(r.Context(), doctorID, r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, groups)
	}
}

func listDoctorSchedulesHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := pathUUID(r, "id")
		if err != nil {
			writeError(w, r, err)
			return
		}

		slots, err := svc.ListDoctorSlots(r.Context(), doctorID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, slots)
	}
}
