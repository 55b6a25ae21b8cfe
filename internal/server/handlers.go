package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/filter"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/geo"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/propagation"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/source"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/spot"
)

// handleSpots fetches live through the selection policy, bypassing the store.
func (s *Server) handleSpots(w http.ResponseWriter, r *http.Request) {
	id := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("source")))
	if id == "" {
		id = source.Auto
	}

	batch, err := s.deps.Sources.Fetch(r.Context(), id)
	if errors.Is(err, source.ErrUnknownSource) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, spot.WireAll(batch.Spots))
}

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Sources.Sources())
}

type sourceBody struct {
	Source string `json:"source"`
}

func (s *Server) handleGetSource(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, sourceBody{Source: s.deps.Poller.Source()})
}

// handlePutSource switches the polled provider and triggers a poll.
func (s *Server) handlePutSource(w http.ResponseWriter, r *http.Request) {
	var body sourceBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := strings.ToLower(strings.TrimSpace(body.Source))
	if err := s.deps.Poller.SetSource(id); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.log.WithField("source", id).Info("source changed")
	writeJSON(w, http.StatusOK, sourceBody{Source: id})
}

func (s *Server) handleListView(w http.ResponseWriter, _ *http.Request) {
	view := filter.BuildList(s.deps.Store.Snapshot(), s.deps.Filters.Get())
	view.Loading = !s.deps.Poller.Ready()
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePathView(w http.ResponseWriter, _ *http.Request) {
	view := filter.BuildPaths(s.deps.Store.Snapshot(), s.deps.Filters.Get(), filter.PathSteps)
	view.Loading = !s.deps.Poller.Ready()
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetFilters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Filters.Get())
}

// handlePutFilters replaces the filter set. Retention applies immediately
// through the holder's change hooks.
func (s *Server) handlePutFilters(w http.ResponseWriter, r *http.Request) {
	var f filter.FilterSet
	if err := decodeBody(w, r, &f); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.deps.Filters.Set(f); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.deps.FilterFile != "" {
		if err := filter.SaveFile(s.deps.FilterFile, f); err != nil {
			s.log.WithError(err).WithField("path", s.deps.FilterFile).Warn("persist filters failed")
		}
	}
	writeJSON(w, http.StatusOK, s.deps.Filters.Get())
}

func (s *Server) handleGetDestination(w http.ResponseWriter, _ *http.Request) {
	p, ok := s.Destination()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"set": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"set": true, "lat": p.Lat, "lon": p.Lon, "grid": geo.GridSquare(p.Lat, p.Lon)})
}

type destinationBody struct {
	Lat  *float64 `json:"lat"`
	Lon  *float64 `json:"lon"`
	Grid string   `json:"grid"`
}

// handlePutDestination is the rendering layer's "set destination" callback.
// It accepts either lat/lon or a Maidenhead grid.
func (s *Server) handlePutDestination(w http.ResponseWriter, r *http.Request) {
	var body destinationBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var p geo.LatLon
	switch {
	case body.Lat != nil && body.Lon != nil:
		p = geo.LatLon{Lat: *body.Lat, Lon: *body.Lon}
	case body.Grid != "":
		var err error
		if p, err = geo.GridToLatLon(body.Grid); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, errors.New("lat and lon or grid required"))
		return
	}

	if err := s.SetDestination(p); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %s", err, p))
		return
	}
	s.log.WithFields(logrus.Fields{"lat": p.Lat, "lon": p.Lon}).Debug("destination set")
	writeJSON(w, http.StatusOK, map[string]any{"set": true, "lat": p.Lat, "lon": p.Lon, "grid": geo.GridSquare(p.Lat, p.Lon)})
}

// handlePropagation predicts from de to dx. dx falls back to the
// destination set through PUT /api/destination.
func (s *Server) handlePropagation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := parseLatLon(q.Get("deLat"), q.Get("deLon"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("de: %w", err))
		return
	}

	var to geo.LatLon
	if q.Get("dxLat") == "" && q.Get("dxLon") == "" {
		dest, ok := s.Destination()
		if !ok {
			writeError(w, http.StatusBadRequest, errors.New("dx: no coordinates and no destination set"))
			return
		}
		to = dest
	} else if to, err = parseLatLon(q.Get("dxLat"), q.Get("dxLon")); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("dx: %w", err))
		return
	}

	res, err := s.deps.Predictor.Predict(r.Context(), from, to)
	if errors.Is(err, propagation.ErrInvalidLocation) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func parseLatLon(lat, lon string) (geo.LatLon, error) {
	if lat == "" || lon == "" {
		return geo.LatLon{}, errors.New("lat and lon are required")
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return geo.LatLon{}, fmt.Errorf("lat %q: %w", lat, propagation.ErrInvalidLocation)
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return geo.LatLon{}, fmt.Errorf("lon %q: %w", lon, propagation.ErrInvalidLocation)
	}
	p := geo.LatLon{Lat: la, Lon: lo}
	if !p.Valid() {
		return geo.LatLon{}, fmt.Errorf("%w: %s", propagation.ErrInvalidLocation, p)
	}
	return p, nil
}
