package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jobrunner/stratum/internal/application"
	"github.com/jobrunner/stratum/internal/domain"
)

// maxMultipartMemory bounds how much of a multipart body is held in
// memory before spilling to temp files.
const maxMultipartMemory = 32 << 20

// IngestRequest is the JSON body of an ingestion request.
type IngestRequest struct {
	UploadID  string `json:"upload_id"`
	Kind      string `json:"kind"`
	LayerName string `json:"layer_name,omitempty"`
}

// handleUpload receives a file and stages it for later ingestion.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "Upload exceeds the configured size limit")
			return
		}
		s.writeError(w, http.StatusBadRequest, "Malformed multipart request")
		return
	}

	kind, err := domain.ParseUploadKind(r.FormValue("kind"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Unknown upload kind, use vector or raster")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer func() { _ = file.Close() }()

	record, err := s.uploads.Receive(r.Context(), header.Filename, kind, file)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, s.formatUpload(record))
}

// handleIngest turns a staged upload into a published layer.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	if req.UploadID == "" {
		s.writeError(w, http.StatusBadRequest, "upload_id is required")
		return
	}

	kind, err := domain.ParseUploadKind(req.Kind)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Unknown upload kind, use vector or raster")
		return
	}

	var layer *domain.LayerMetadata
	switch kind {
	case domain.UploadVector:
		layer, err = s.ingest.IngestVector(r.Context(), req.UploadID, req.LayerName)
	case domain.UploadRaster:
		layer, err = s.ingest.IngestRaster(r.Context(), req.UploadID, req.LayerName)
	}
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, s.formatLayer(layer))
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":        boolToStatus(details.Healthy),
		"ready":         details.Ready,
		"layers_active": details.LayersActive,
		"components":    details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleListLayers returns all published layers.
func (s *Server) handleListLayers(w http.ResponseWriter, r *http.Request) {
	layers, err := s.catalog.ListLayers(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list layers")
		return
	}

	response := make([]map[string]interface{}, len(layers))
	for i := range layers {
		response[i] = s.formatLayer(&layers[i])
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"layers": response,
		"count":  len(layers),
	})
}

// handleGetLayer returns a specific layer.
func (s *Server) handleGetLayer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	layer, err := s.catalog.GetLayer(r.Context(), vars["layerId"])
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.formatLayer(layer))
}

// handleGetLayerBBox returns the bounding box of a layer. Layers without
// committed features report a null bbox.
func (s *Server) handleGetLayerBBox(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	layerID := vars["layerId"]

	extent, err := s.catalog.GetLayerBBox(r.Context(), layerID)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	response := map[string]interface{}{
		"layer_id": layerID,
		"bbox":     nil,
	}
	if extent != nil {
		response["bbox"] = s.formatExtent(extent)
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleVectorTile serves one vector tile of a published vector layer.
func (s *Server) handleVectorTile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	tile, err := parseTile(vars)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid tile address")
		return
	}

	data, contentType, err := s.tiles.VectorTile(r.Context(), vars["layerName"], tile)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(data)
}

// handleRasterTile renders one raster tile of a published raster layer.
func (s *Server) handleRasterTile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	tile, err := parseTile(vars)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid tile address")
		return
	}

	data, err := s.tiles.RasterTile(r.Context(), vars["layerId"], tile)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(data)
}

// handleOpenAPI returns the OpenAPI specification.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := getOpenAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// parseTile reads the z/x/y route variables. The route patterns only
// admit digits, so errors here mean the address overflows int.
func parseTile(vars map[string]string) (domain.Tile, error) {
	z, err := strconv.Atoi(vars["z"])
	if err != nil {
		return domain.Tile{}, err
	}
	x, err := strconv.Atoi(vars["x"])
	if err != nil {
		return domain.Tile{}, err
	}
	y, err := strconv.Atoi(vars["y"])
	if err != nil {
		return domain.Tile{}, err
	}
	return domain.Tile{Z: z, X: x, Y: y}, nil
}

// formatUpload formats an upload record for JSON output.
func (s *Server) formatUpload(rec domain.UploadRecord) map[string]interface{} {
	return map[string]interface{}{
		"upload_id":   rec.ID,
		"filename":    rec.Filename,
		"kind":        rec.Kind,
		"size_bytes":  rec.SizeBytes,
		"received_at": rec.ReceivedAt,
	}
}

// formatLayer formats layer metadata for JSON output.
func (s *Server) formatLayer(m *domain.LayerMetadata) map[string]interface{} {
	out := map[string]interface{}{
		"id":            m.ID,
		"name":          m.Name,
		"provider":      m.Provider,
		"geometry_type": m.GeometryType,
		"srid":          m.SRID,
		"projection":    domain.ProjectionName(m.SRID),
		"created_at":    m.CreatedAt,
	}
	if m.HasBBox() {
		out["bbox"] = s.formatExtent(m.BBox)
	}
	return out
}

// formatExtent formats an extent for JSON output.
func (s *Server) formatExtent(e *domain.Extent) map[string]interface{} {
	return map[string]interface{}{
		"min_x": e.MinX,
		"min_y": e.MinY,
		"max_x": e.MaxX,
		"max_y": e.MaxY,
		"srid":  e.SRID,
	}
}

// handleServiceError maps service errors to HTTP status codes. Wrapped
// specifics are checked before their base sentinels.
func (s *Server) handleServiceError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		s.writeError(w, http.StatusBadRequest, validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrUploadNotFound):
		s.writeError(w, http.StatusNotFound, "Upload not found")
	case errors.Is(err, domain.ErrLayerNotFound):
		s.writeError(w, http.StatusNotFound, "Layer not found")
	case errors.Is(err, domain.ErrDuplicateLayerName):
		s.writeError(w, http.StatusConflict, "Layer name already in use")
	case errors.Is(err, domain.ErrIngestionInProgress):
		s.writeError(w, http.StatusConflict, "Ingestion already in progress for this upload or layer")
	case errors.Is(err, domain.ErrUploadTooLarge):
		s.writeError(w, http.StatusRequestEntityTooLarge, "Upload exceeds the configured size limit")
	case errors.Is(err, domain.ErrUnsupportedFormat), errors.Is(err, domain.ErrUnsupportedRasterFormat):
		s.writeError(w, http.StatusUnsupportedMediaType, "Unsupported file format")
	case errors.Is(err, domain.ErrUnsupportedProjection):
		s.writeError(w, http.StatusUnprocessableEntity, "Source projection is not supported")
	case errors.Is(err, domain.ErrMalformedGeometry):
		s.writeError(w, http.StatusUnprocessableEntity, "Upload contains malformed geometry")
	case errors.Is(err, domain.ErrReprojectionFailure):
		s.writeError(w, http.StatusUnprocessableEntity, "Reprojection to the canonical projection failed")
	case errors.Is(err, domain.ErrInsufficientStorage):
		s.writeError(w, http.StatusInsufficientStorage, "Staging storage unavailable")
	case errors.Is(err, domain.ErrUpstreamTile):
		s.writeError(w, http.StatusBadGateway, "Tile backend unavailable")
	case errors.Is(err, domain.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "Service unavailable")
	case errors.Is(err, domain.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, "Invalid request")
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}

// handleSweep handles the drop directory sweep trigger endpoint.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.sweep == nil {
		s.writeError(w, http.StatusNotFound, "Sweep service not available")
		return
	}

	result, err := s.sweep.TriggerSweep(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrRateLimited) {
			w.Header().Set("Retry-After", "30")
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again in 30 seconds.")
			return
		}
		s.logger.Error("sweep failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Sweep failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}
