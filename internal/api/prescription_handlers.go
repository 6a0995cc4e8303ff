package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/clinic-appointments/internal/directory"
	"github.com/hackgods/clinic-appointments/internal/prescription"
)

func createPrescriptionHandler(svc *prescription.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreatePrescriptionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		rx, err := svc.Create(r.Context(), caller(r), prescription.CreateRequest{
			AppointmentID: req.AppointmentID,
			Medications:   req.Medications,
			Diagnosis:     req.Diagnosis,
			ExpiryDate:    req.ExpiryDate.ptr(),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, rx)
	}
}

func updatePrescriptionHandler(svc *prescription.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "id")
		if err != nil {
			writeError(w, r, err)
			return
		}

		var req UpdatePrescriptionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		patch := prescription.Patch{
			Medications: req.Medications,
			Diagnosis:   req.Diagnosis,
			ExpiryDate:  req.ExpiryDate.ptr(),
		}
		if req.Status != nil {
			status := prescription.Status(*req.Status)
			patch.Status = &status
		}

		rx, err := svc.Update(r.Context(), caller(r), id, patch)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, rx)
	}
}

func deletePrescriptionHandler(svc *prescription.Service) http.HandlerFunc {
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

		writeJSON(w, http.StatusOK, MessageResponse{Message: "Prescription deleted successfully"})
	}
}

func getPrescriptionHandler(svc *prescription.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "id")
		if err != nil {
			writeError(w, r, err)
			return
		}

		rx, err := svc.Get(r.Context(), caller(r), id)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, rx)
	}
}

func listPrescriptionsHandler(svc *prescription.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, err := directory.ParseRole(chi.URLParam(r, "role"))
		if err != nil {
			writeError(w, r, prescription.ErrInvalidRole)
			return
		}
		userID, err := pathUUID(r, "userId")
		if err != nil {
			writeError(w, r, err)
			return
		}

		list, err := svc.ListForRole(r.Context(), caller(r), role, userID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, list)
	}
}
