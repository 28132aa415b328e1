package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MrWong99/notescribe/internal/decode"
	"github.com/MrWong99/notescribe/internal/observe"
	"github.com/MrWong99/notescribe/internal/resilience"
	"github.com/MrWong99/notescribe/pkg/transcribe"
	"github.com/MrWong99/notescribe/pkg/types"
)

const (
	// formField is the multipart field carrying the upload.
	formField = "audio_file"

	// memoryLimit is the part of a multipart body kept in memory; the rest
	// spills to temporary files.
	memoryLimit = 8 << 20

	// NoteCountHeader carries the number of transcribed notes.
	NoteCountHeader = "X-Note-Count"
)

type errorBody struct {
	Error string `json:"error"`
}

type formatsBody struct {
	SupportedFormats []string `json:"supported_formats"`
	MaxFileSizeMB    int      `json:"max_file_size_mb"`
}

func (s *Server) handleSupportedFormats(w http.ResponseWriter, _ *http.Request) {
	srv := s.cfg.Load().Server
	writeJSON(w, http.StatusOK, formatsBody{
		SupportedFormats: srv.AllowedExtensions,
		MaxFileSizeMB:    srv.MaxUploadMB,
	})
}

// transcription is the outcome of one pipeline run.
type transcription struct {
	seq  *types.NoteSequence
	data []byte
	err  error
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)
	cfg := s.cfg.Load()
	srv := cfg.Server

	tooLargeMsg := fmt.Sprintf("File too large. Maximum size is %dMB", srv.MaxUploadMB)
	if r.ContentLength > srv.MaxUploadBytes() {
		writeError(w, http.StatusRequestEntityTooLarge, tooLargeMsg)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, srv.MaxUploadBytes())
	if err := r.ParseMultipartForm(memoryLimit); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, tooLargeMsg)
		case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
			writeError(w, http.StatusBadRequest, "No audio file provided")
		default:
			writeError(w, http.StatusBadRequest, "Malformed multipart form")
		}
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(formField)
	if err != nil {
		// A part without a file name is parsed as a plain form value.
		if _, ok := r.MultipartForm.Value[formField]; ok {
			writeError(w, http.StatusBadRequest, "No file selected")
			return
		}
		writeError(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No file selected")
		return
	}
	ext := decode.Ext(header.Filename)
	if !allowed(srv.AllowedExtensions, ext) {
		writeError(w, http.StatusBadRequest,
			"File type not supported. Allowed types: "+strings.Join(srv.AllowedExtensions, ", "))
		return
	}

	buf, err := decode.Reader(file, ext, decode.WithSampleRate(cfg.Analysis.SampleRate))
	if err != nil {
		if errors.Is(err, decode.ErrCorrupt) {
			log.Info("undecodable upload", "file", header.Filename, "err", err)
			writeError(w, http.StatusUnprocessableEntity, "Audio file could not be decoded")
			return
		}
		log.Error("decode upload", "file", header.Filename, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	t, release := s.pool.Acquire()
	if t == nil {
		release()
		writeError(w, http.StatusServiceUnavailable, "Service is shutting down")
		return
	}

	timeout := srv.RequestTimeout(buf.Duration())
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The pipeline cannot be interrupted; on timeout it finishes in the
	// background and only then releases its transcriber.
	done := make(chan transcription, 1)
	go func() {
		defer release()
		// Recoverer only sees panics on the request goroutine.
		defer func() {
			if r := recover(); r != nil {
				done <- transcription{err: fmt.Errorf("server: transcription panicked: %v", r)}
			}
		}()
		seq, data, err := t.TranscribeToMIDIContext(ctx, buf.Samples, buf.SampleRate)
		done <- transcription{seq: seq, data: data, err: err}
	}()

	var res transcription
	select {
	case res = <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Warn("transcription timed out", "file", header.Filename, "timeout", timeout, "audio", buf.Duration())
			writeError(w, http.StatusGatewayTimeout, "Transcription timed out")
			return
		}
		log.Debug("client went away during transcription", "err", ctx.Err())
		return
	}

	if res.err != nil {
		switch {
		case transcribe.KindOf(res.err) == transcribe.KindInvalidInput:
			writeError(w, http.StatusBadRequest, "Invalid audio: "+res.err.Error())
		case errors.Is(res.err, resilience.ErrCircuitOpen):
			log.Warn("no detector available", "file", header.Filename, "err", res.err)
			writeError(w, http.StatusServiceUnavailable, "Transcription temporarily unavailable")
		default:
			log.Error("transcription failed", "file", header.Filename, "err", res.err)
			writeError(w, http.StatusInternalServerError, "Transcription failed")
		}
		return
	}

	name := strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename)) + ".mid"
	w.Header().Set("Content-Type", "audio/midi")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.data)))
	w.Header().Set(NoteCountHeader, strconv.Itoa(res.seq.NoteCount()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.data); err != nil {
		log.Debug("write midi response", "err", err)
	}
}

// allowed reports whether ext is in exts, ignoring case and leading dots.
func allowed(exts []string, ext string) bool {
	for _, e := range exts {
		if strings.EqualFold(strings.TrimPrefix(e, "."), ext) {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
