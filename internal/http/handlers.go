package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/driverstate"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/storage"
)

type Server struct {
	Rides     *rides.Service
	Avail     *driverstate.Machine
	Locations geo.LocationStore
	Kafka     *ingest.KafkaProducer // optional location pipeline
	WSReg     *dispatch.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(r *rides.Service, avail *driverstate.Machine, locations geo.LocationStore, kp *ingest.KafkaProducer, wsreg *dispatch.WSRegistry, logger *slog.Logger) *Server {
	s := &Server{
		Rides:     r,
		Avail:     avail,
		Locations: locations,
		Kafka:     kp,
		WSReg:     wsreg,
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides/request", s.handleRideRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}", s.handleRideGet).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/accept", s.handleRideAccept).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/arrive", s.handleRideArrive).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/start", s.handleRideStart).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/complete", s.handleRideComplete).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/cancel", s.handleRideCancel).Methods("POST")

	s.mux.HandleFunc("/api/v1/drivers/{driver_id}/online", s.handleDriverOnline).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers/{driver_id}/offline", s.handleDriverOffline).Methods("POST")

	s.mux.HandleFunc("/api/v1/bookings/{booking_id}/arrive", s.handleBookingArrive).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{booking_id}/complete", s.handleBookingComplete).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{booking_id}/cancel", s.handleBookingCancel).Methods("POST")

	s.mux.HandleFunc("/admin/v1/rides/assign", s.handleAdminAssign).Methods("POST")
	s.mux.HandleFunc("/admin/v1/bookings", s.handleBookingCreate).Methods("POST")

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var cmd rides.RequestCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.Rides.Request(r.Context(), cmd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleRideGet(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Rides.Get(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type driverAction struct {
	DriverID    string  `json:"driver_id"`
	OTP         string  `json:"otp,omitempty"`
	DistanceKm  float64 `json:"distance_km,omitempty"`
	DurationSec int64   `json:"duration_sec,omitempty"`
}

func (s *Server) handleRideAccept(w http.ResponseWriter, r *http.Request) {
	var body driverAction
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.Rides.Accept(r.Context(), mux.Vars(r)["ride_id"], body.DriverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRideArrive(w http.ResponseWriter, r *http.Request) {
	var body driverAction
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.Rides.Arrive(r.Context(), mux.Vars(r)["ride_id"], body.DriverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRideStart(w http.ResponseWriter, r *http.Request) {
	var body driverAction
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.Rides.Start(r.Context(), mux.Vars(r)["ride_id"], body.DriverID, body.OTP)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRideComplete(w http.ResponseWriter, r *http.Request) {
	var body driverAction
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.Rides.Complete(r.Context(), mux.Vars(r)["ride_id"], body.DriverID, body.OTP, body.DistanceKm, body.DurationSec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRideCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor  string `json:"actor"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.Rides.Cancel(r.Context(), mux.Vars(r)["ride_id"], body.Actor, body.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleDriverOnline(w http.ResponseWriter, r *http.Request) {
	if err := s.Avail.SetOnline(r.Context(), mux.Vars(r)["driver_id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDriverOffline(w http.ResponseWriter, r *http.Request) {
	if err := s.Avail.SetOffline(r.Context(), mux.Vars(r)["driver_id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBookingArrive(w http.ResponseWriter, r *http.Request) {
	var body driverAction
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := s.Rides.BookingArrive(r.Context(), mux.Vars(r)["booking_id"], body.DriverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleBookingComplete(w http.ResponseWriter, r *http.Request) {
	var body driverAction
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := s.Rides.BookingComplete(r.Context(), mux.Vars(r)["booking_id"], body.DriverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleBookingCancel(w http.ResponseWriter, r *http.Request) {
	var body driverAction
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := s.Rides.BookingCancel(r.Context(), mux.Vars(r)["booking_id"], body.DriverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleAdminAssign(w http.ResponseWriter, r *http.Request) {
	var cmd rides.AdminAssignCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.Rides.AdminAssign(r.Context(), cmd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleBookingCreate(w http.ResponseWriter, r *http.Request) {
	var cmd rides.BookingCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := s.Rides.CreateBooking(r.Context(), cmd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var rec models.LocationRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	// publish to kafka if the pipeline is wired, otherwise write direct
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(rec); err != nil {
			s.logger.Warn("location publish failed, writing direct", "driver_id", rec.DriverID, "error", err)
		} else {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	if err := s.Locations.Upsert(r.Context(), rec); err != nil {
		http.Error(w, "location store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(id, conn)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rides.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, rides.ErrConflict), errors.Is(err, driverstate.ErrActiveWork):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, rides.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
