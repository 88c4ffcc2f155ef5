package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tagbox-core/internal/infrastructure/config"
	"github.com/nerrad567/tagbox-core/internal/jukebox"
	"github.com/nerrad567/tagbox-core/internal/media"
	"github.com/nerrad567/tagbox-core/internal/notify"
)

// registerRequest is the body of POST /mappings.
type registerRequest struct {
	AudioFile string `json:"audio_file"`
}

// volumeRequest is the body of PUT /volume.
type volumeRequest struct {
	Level *int `json:"level"`
}

// volumeResponse is returned by both volume endpoints.
type volumeResponse struct {
	Volume int `json:"volume"`
}

// requestContext tags the request context with the "api" audit source.
func requestContext(r *http.Request) context.Context {
	return jukebox.WithSource(r.Context(), "api")
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// handleState returns everything the control page needs on load.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.State(r.Context()))
}

// primeState is the hub's Primer: the current payload of each stateful
// channel.
func (s *Server) primeState(ctx context.Context) map[string]any {
	st := s.ctrl.State(ctx)
	return map[string]any{
		notify.TrackUpdate:  notify.TrackPayload{CurrentTrack: st.CurrentTrack},
		notify.VolumeUpdate: notify.VolumePayload{Volume: st.Volume},
		notify.RefreshData:  notify.RefreshPayload{Mappings: st.Mappings, AudioFiles: st.AudioFiles},
	}
}

// handleListMappings returns the committed tag mapping.
func (s *Server) handleListMappings(w http.ResponseWriter, _ *http.Request) {
	snap := s.ctrl.Mappings()
	writeJSON(w, http.StatusOK, map[string]any{
		"mappings": snap.Map(),
		"count":    snap.Len(),
	})
}

// handleRegister waits for a tag and assigns the requested file to it.
// The request blocks until a tag is read or the registration times out.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.AudioFile == "" {
		writeBadRequest(w, "audio_file is required")
		return
	}

	writeResult(w, s.ctrl.Register(requestContext(r), req.AudioFile))
}

// handleUnregister removes the mapping for a tag.
func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.ctrl.Unregister(requestContext(r), chi.URLParam(r, "tagID")))
}

// handleListLibrary lists tracks with size and tag metadata.
func (s *Server) handleListLibrary(w http.ResponseWriter, _ *http.Request) {
	lib := s.ctrl.Library()
	tracks, err := lib.List()
	if err != nil {
		s.logger.Error("failed to list library", "error", err)
		writeInternalError(w, "failed to list library")
		return
	}

	infos := make([]media.Info, 0, len(tracks))
	for _, t := range tracks {
		info, err := lib.Info(t)
		if err != nil {
			// Deleted between List and Info.
			s.logger.Debug("skipping track", "track", t, "error", err)
			continue
		}
		infos = append(infos, info)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tracks": infos,
		"count":  len(infos),
	})
}

func (s *Server) uploadLimit() int64 {
	if s.cfg.MaxUploadSize <= 0 {
		return config.DefaultMaxUploadSize
	}
	return s.cfg.MaxUploadSize
}

// handleUpload streams the multipart "file" field into the library.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.uploadLimit())

	mr, err := r.MultipartReader()
	if err != nil {
		writeBadRequest(w, "expected multipart/form-data")
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeBadRequest(w, "missing file field")
			return
		}
		if err != nil {
			s.writeUploadError(w, err)
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		res := s.ctrl.Upload(requestContext(r), part.FileName(), part)
		part.Close()
		if !res.OK() {
			var tooLarge *http.MaxBytesError
			if errors.As(res.Err, &tooLarge) {
				s.writeUploadError(w, res.Err)
				return
			}
		}
		writeResult(w, res)
		return
	}
}

func (s *Server) writeUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge,
			fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
		return
	}
	writeBadRequest(w, "malformed upload")
}

// handleDeleteTrack deletes a track and every tag mapped to it.
func (s *Server) handleDeleteTrack(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.ctrl.Delete(requestContext(r), chi.URLParam(r, "filename")))
}

// handleServeMedia streams a track, with range support for seeking.
func (s *Server) handleServeMedia(w http.ResponseWriter, r *http.Request) {
	track, err := media.ParseTrack(chi.URLParam(r, "filename"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	f, err := os.Open(s.ctrl.Library().Path(track))
	if err != nil {
		writeNotFound(w, "track not found")
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		writeInternalError(w, "failed to read track")
		return
	}

	http.ServeContent(w, r, track.String(), fi.ModTime(), f)
}

// handleStopPlayback stops the current track.
func (s *Server) handleStopPlayback(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.ctrl.StopPlayback(requestContext(r)))
}

// handleGetVolume returns the current volume level (0-100).
func (s *Server) handleGetVolume(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, volumeResponse{Volume: s.ctrl.Volume(r.Context())})
}

// handleSetVolume clamps and applies a volume level.
func (s *Server) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Level == nil {
		writeBadRequest(w, "level is required")
		return
	}

	level, err := s.ctrl.SetVolume(requestContext(r), *req.Level)
	if err != nil {
		writeInternalError(w, fmt.Sprintf("failed to set volume to %d", level))
		return
	}
	writeJSON(w, http.StatusOK, volumeResponse{Volume: level})
}
